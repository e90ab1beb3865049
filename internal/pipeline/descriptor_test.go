package pipeline

import (
	"errors"
	"testing"
)

type closeRecorder struct {
	closed []int
	err    error
}

func (c *closeRecorder) close(fd int) error {
	c.closed = append(c.closed, fd)
	return c.err
}

func TestDescriptorTableReleaseOnce(t *testing.T) {
	c := &closeRecorder{}
	table := NewDescriptorTable(StageCapture, 3)
	for i := 0; i < 3; i++ {
		if err := table.Set(SlotIndex(i), 10+i, c.close); err != nil {
			t.Fatalf("Set(%d) error = %v", i, err)
		}
	}
	table.Freeze()

	for i := 0; i < 3; i++ {
		if err := table.Release(); err != nil {
			t.Errorf("Release() #%d error = %v", i, err)
		}
	}
	if len(c.closed) != 3 {
		t.Errorf("closed %v, want 3 descriptors closed once", c.closed)
	}
	if table.Shared(0).Valid() {
		t.Error("Shared(0) still valid after Release")
	}
}

func TestDescriptorTableReleasesResourcesFirst(t *testing.T) {
	var order []string
	table := NewDescriptorTable(StageISPOutput, 1)
	_ = table.Set(0, 7, func(int) error {
		order = append(order, "descriptor")
		return nil
	})
	_ = table.Attach(0, releaseFunc(func() error {
		order = append(order, "resource")
		return nil
	}))

	_ = table.Release()
	if len(order) != 2 || order[0] != "resource" || order[1] != "descriptor" {
		t.Errorf("release order = %v, want [resource descriptor]", order)
	}
}

func TestDescriptorTableFrozen(t *testing.T) {
	table := NewDescriptorTable(StageCapture, 2)
	table.Freeze()
	if err := table.Set(0, 3, nil); err == nil {
		t.Error("Set() on frozen table succeeded")
	}
	if err := table.Attach(0, nil); err == nil {
		t.Error("Attach() on frozen table succeeded")
	}
}

func TestDescriptorTableBounds(t *testing.T) {
	table := NewDescriptorTable(StageCapture, 2)
	if err := table.Set(2, 3, nil); err == nil {
		t.Error("Set() out of range succeeded")
	}
	if err := table.Set(0, 3, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := table.Set(0, 4, nil); err == nil {
		t.Error("second Set() on the same slot succeeded")
	}
	if got := table.Shared(0).FD(); got != 3 {
		t.Errorf("Shared(0).FD() = %d, want 3", got)
	}
	if got := table.Shared(5).FD(); got != -1 {
		t.Errorf("Shared(5).FD() = %d, want -1", got)
	}
	if table.Resource(-1) != nil {
		t.Error("Resource(-1) != nil")
	}
}

func TestDescriptorTableReleaseErrors(t *testing.T) {
	c := &closeRecorder{err: errors.New("bad file descriptor")}
	table := NewDescriptorTable(StageCapture, 2)
	_ = table.Set(0, 3, c.close)
	_ = table.Set(1, 4, c.close)

	err := table.Release()
	if err == nil {
		t.Fatal("Release() error = nil, want joined close errors")
	}
	if len(c.closed) != 2 {
		t.Errorf("closed %v, want both descriptors attempted", c.closed)
	}
	if again := table.Release(); !errors.Is(again, c.err) {
		t.Errorf("second Release() = %v, want the first result", again)
	}
}

type releaseFunc func() error

func (f releaseFunc) Release() error { return f() }
