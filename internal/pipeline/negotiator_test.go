package pipeline

import (
	"errors"
	"testing"
)

func TestNegotiatorStoresReQueriedGeometry(t *testing.T) {
	dev := newMockDevice("/dev/video0", &recorder{})
	dev.clamp = func(_ QueueSpec, f Format) Format {
		if f.Geometry.Width > 1270 {
			f.Geometry.Width = 1270
		}
		return f
	}

	n := NewNegotiator("unicam", Geometry{Width: 1280, Height: 720}, discardLogger())
	report := &SetupReport{}
	got := n.NegotiateCapture(dev, CaptureQueue, LayoutRGB24, report)

	if got.Geometry.Width != 1270 {
		t.Errorf("negotiated width = %d, want 1270", got.Geometry.Width)
	}
	if n.Working().Width != 1270 {
		t.Errorf("working width = %d, want 1270", n.Working().Width)
	}
	if !report.OK() {
		t.Errorf("report = %v, want OK", report.Err())
	}
}

func TestNegotiatorTiming(t *testing.T) {
	tests := []struct {
		name         string
		timing       Timing
		timingErr    error
		setTimingErr error
		wantWorking  Geometry
		wantFailedOp string
	}{
		{
			name:        "detected timing replaces default",
			timing:      Timing{Geometry: Geometry{Width: 1920, Height: 1080}, FPS: 60},
			wantWorking: Geometry{Width: 1920, Height: 1080},
		},
		{
			name:         "no signal keeps default",
			timingErr:    errors.New("link has been severed"),
			wantWorking:  Geometry{Width: 1280, Height: 720},
			wantFailedOp: "query-timing",
		},
		{
			name:         "rejected timing keeps default",
			timing:       Timing{Geometry: Geometry{Width: 1920, Height: 1080}},
			setTimingErr: errors.New("device or resource busy"),
			wantWorking:  Geometry{Width: 1280, Height: 720},
			wantFailedOp: "set-timing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newMockDevice("/dev/video0", &recorder{})
			dev.timing = tt.timing
			dev.timingErr = tt.timingErr
			dev.setTimingErr = tt.setTimingErr

			n := NewNegotiator("unicam", Geometry{Width: 1280, Height: 720}, discardLogger())
			report := &SetupReport{}
			n.NegotiateCapture(dev, CaptureQueue, LayoutRGB24, report)

			if n.Working() != tt.wantWorking {
				t.Errorf("Working() = %v, want %v", n.Working(), tt.wantWorking)
			}
			if tt.wantFailedOp == "" {
				if !report.OK() {
					t.Errorf("report = %v, want OK", report.Err())
				}
				return
			}
			if len(report.Steps) != 1 || report.Steps[0].Op != tt.wantFailedOp {
				t.Fatalf("report steps = %+v, want one %s failure", report.Steps, tt.wantFailedOp)
			}
			if !errors.Is(report.Steps[0].Err, ErrDriverRejected) {
				t.Errorf("step error = %v, want DriverRejected", report.Steps[0].Err)
			}
		})
	}
}

func TestNegotiatorIdentity(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		expected string
		wantKind Kind
	}{
		{"exact match", "unicam", "unicam", 0},
		{"prefix match", "unicam-v2", "unicam", 0},
		{"mismatch", "uvcvideo", "unicam", KindDriverMismatch},
		{"check disabled", "uvcvideo", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newMockDevice("/dev/video0", &recorder{})
			dev.identity.Driver = tt.driver

			n := NewNegotiator(tt.expected, Geometry{Width: 1280, Height: 720}, discardLogger())
			report := &SetupReport{}
			n.NegotiateCapture(dev, CaptureQueue, LayoutRGB24, report)

			if got := KindOf(report.Err()); got != tt.wantKind {
				t.Errorf("report kind = %v, want %v", got, tt.wantKind)
			}
		})
	}
}

func TestNegotiatorFallsBackOnFormatFailure(t *testing.T) {
	dev := newMockDevice("/dev/video12", &recorder{})
	dev.setErr[StageISPOutput] = errors.New("invalid argument")

	n := NewNegotiator("", Geometry{Width: 1920, Height: 1080}, discardLogger())
	report := &SetupReport{}
	got := n.NegotiateQueue(dev, ISPOutputQueue, LayoutBGR32, report)

	want := Format{Geometry: Geometry{Width: 1920, Height: 1080}, Layout: LayoutBGR32, Field: FieldNone}
	if got != want {
		t.Errorf("NegotiateQueue() = %+v, want requested %+v", got, want)
	}
	if report.OK() || report.Fatal() {
		t.Errorf("report OK = %v, Fatal = %v; want degraded", report.OK(), report.Fatal())
	}
}

func TestNegotiatorQueueKeepsWorkingGeometry(t *testing.T) {
	dev := newMockDevice("/dev/video12", &recorder{})
	dev.clamp = func(_ QueueSpec, f Format) Format {
		f.Geometry.Height = 700
		return f
	}

	n := NewNegotiator("", Geometry{Width: 1280, Height: 720}, discardLogger())
	got := n.NegotiateQueue(dev, ISPOutputQueue, LayoutBGR32, &SetupReport{})

	if got.Geometry.Height != 700 {
		t.Errorf("negotiated height = %d, want re-queried 700", got.Geometry.Height)
	}
	if n.Working().Height != 720 {
		t.Errorf("ISP negotiation changed working height to %d", n.Working().Height)
	}
}

func TestNegotiatorListsFormatsForEveryQueue(t *testing.T) {
	rec := &recorder{}
	capture := newMockDevice("/dev/video0", rec)
	isp := newMockDevice("/dev/video13", rec)

	n := NewNegotiator("unicam", Geometry{Width: 1280, Height: 720}, discardLogger())
	report := &SetupReport{}
	n.NegotiateCapture(capture, CaptureQueue, LayoutRGB24, report)
	n.NegotiateQueue(isp, ISPInputQueue, LayoutRGB24, report)
	n.NegotiateQueue(isp, ISPOutputQueue, LayoutBGR32, report)

	for _, q := range []QueueSpec{CaptureQueue, ISPInputQueue, ISPOutputQueue} {
		if got := len(rec.filter(q.Name, "formats")); got != 1 {
			t.Errorf("%s: format listings = %d, want 1", q.Name, got)
		}
	}
}
