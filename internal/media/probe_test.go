package media

import (
	"math"
	"slices"
	"testing"
)

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{"streams":[{"width":640,"height":480,"r_frame_rate":"30/1","nb_frames":"120","duration":"4.000000"}]}`)

	meta, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if meta.Width != 640 || meta.Height != 480 {
		t.Fatalf("dimensions: got %dx%d, want 640x480", meta.Width, meta.Height)
	}
	if meta.FPS != 30 {
		t.Fatalf("fps: got %v, want 30", meta.FPS)
	}
	if meta.TotalFrames != 120 {
		t.Fatalf("total frames: got %d, want 120", meta.TotalFrames)
	}
}

func TestParseProbeOutputEstimatesFramesFromDuration(t *testing.T) {
	// MKVなどはコンテナに nb_frames を持たない
	data := []byte(`{"streams":[{"width":320,"height":240,"r_frame_rate":"25/1","nb_frames":"N/A","duration":"2.500000"}]}`)

	meta, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if meta.TotalFrames != 63 {
		t.Fatalf("total frames: got %d, want 63", meta.TotalFrames)
	}
}

func TestParseProbeOutputNoStreams(t *testing.T) {
	if _, err := parseProbeOutput([]byte(`{"streams":[]}`)); err == nil {
		t.Fatal("expected error for missing video stream")
	}
}

func TestParseProbeOutputInvalidDimensions(t *testing.T) {
	data := []byte(`{"streams":[{"width":0,"height":480,"r_frame_rate":"30/1"}]}`)
	if _, err := parseProbeOutput(data); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestParseProbeOutputInvalidJSON(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 25},
		{"0/0", 0},
		{"N/A", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseFrameRate(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProbeArgs(t *testing.T) {
	args := probeArgs("/tmp/in.mp4")
	if args[len(args)-1] != "/tmp/in.mp4" {
		t.Fatalf("last arg: got %q, want input path", args[len(args)-1])
	}
	for _, want := range []string{"-select_streams", "v:0", "-of", "json"} {
		if !slices.Contains(args, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
}
