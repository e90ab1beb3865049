package devices

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "video0")
	if err := os.WriteFile(target, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "by-path"), 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "by-path", "platform-fe801000.csi-video-index0")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"absolute path unchanged", "/dev/video12", "/dev/video12", false},
		{"platform symlink resolved", "platform-fe801000.csi-video-index0", resolved, false},
		{"missing usb id", "usb-missing-camera", "", true},
		{"unknown reference", "video0", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePath(tt.ref, dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolvePath(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolvePath(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}
