package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jamestrichardson/recognize/internal/detect"
	"github.com/jamestrichardson/recognize/internal/media"
)

type fakeSource struct {
	frames []*media.Frame
	meta   media.StreamMeta
	pos    int
	failAt int
}

func newFakeSource(n, width, height int, fps float64) *fakeSource {
	frames := make([]*media.Frame, n)
	for i := range frames {
		f := media.NewFrame(i, width, height)
		for p := range f.Pix {
			f.Pix[p] = byte(i + p)
		}
		frames[i] = f
	}
	return &fakeSource{
		frames: frames,
		meta:   media.StreamMeta{Width: width, Height: height, TotalFrames: n, FPS: fps},
		failAt: -1,
	}
}

func (s *fakeSource) Next() (*media.Frame, error) {
	if s.failAt >= 0 && s.pos == s.failAt {
		return nil, errors.New("decode failure")
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeSource) Meta() media.StreamMeta { return s.meta }

func (s *fakeSource) Close() error { return nil }

type fakeSink struct {
	frames    []*media.Frame
	writeErr  error
	closeErr  error
	closed    bool
	discarded bool
}

func (s *fakeSink) Write(f *media.Frame) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return s.closeErr
}

func (s *fakeSink) Discard() error {
	s.discarded = true
	return nil
}

type fakeDetector struct {
	ready   bool
	detects map[int][]detect.Detection
	calls   []int
	err     error
}

func (d *fakeDetector) Name() string { return "fake" }

func (d *fakeDetector) Ready() bool { return d.ready }

func (d *fakeDetector) Detect(ctx context.Context, f *media.Frame) ([]detect.Detection, error) {
	d.calls = append(d.calls, f.Index)
	if d.err != nil {
		return nil, d.err
	}
	return d.detects[f.Index], nil
}

func det(label string, conf float64, x, y, w, h int) detect.Detection {
	return detect.Detection{
		Label:      label,
		Confidence: conf,
		Box:        detect.BBox{X: x, Y: y, Width: w, Height: h},
	}
}

func TestRunSamplesFramesBySkip(t *testing.T) {
	src := newFakeSource(12, 20, 20, 30)
	sink := &fakeSink{}
	d := &fakeDetector{ready: true}

	summary, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCalls := []int{0, 5, 10}
	if len(d.calls) != len(wantCalls) {
		t.Fatalf("detector calls: got %v, want %v", d.calls, wantCalls)
	}
	for i, idx := range wantCalls {
		if d.calls[i] != idx {
			t.Fatalf("detector calls: got %v, want %v", d.calls, wantCalls)
		}
	}

	if len(sink.frames) != 12 {
		t.Fatalf("written frames: got %d, want 12", len(sink.frames))
	}
	if !sink.closed || sink.discarded {
		t.Fatalf("sink state: closed=%v discarded=%v", sink.closed, sink.discarded)
	}
	if summary.TotalFrames != 12 {
		t.Fatalf("total frames: got %d, want 12", summary.TotalFrames)
	}
}

func TestRunFirstFrameAlwaysDetected(t *testing.T) {
	src := newFakeSource(1, 20, 20, 0)
	sink := &fakeSink{}
	d := &fakeDetector{ready: true}

	if _, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 30}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(d.calls) != 1 || d.calls[0] != 0 {
		t.Fatalf("detector calls: got %v, want [0]", d.calls)
	}
}

func TestRunCopiesUndetectedFramesUnmodified(t *testing.T) {
	src := newFakeSource(4, 20, 20, 30)
	originals := make([][]byte, len(src.frames))
	for i, f := range src.frames {
		originals[i] = append([]byte(nil), f.Pix...)
	}

	sink := &fakeSink{}
	d := &fakeDetector{
		ready: true,
		detects: map[int][]detect.Detection{
			0: {det("face", 1.0, 2, 2, 8, 8)},
			1: {det("face", 1.0, 3, 3, 8, 8)},
		},
	}

	if _, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if bytes.Equal(sink.frames[0].Pix, originals[0]) {
		t.Fatal("annotated frame must differ from the original")
	}
	// フレーム1は検出対象外なので、検出器が反応するフレームでも元のまま出力される
	for i := 1; i < 4; i++ {
		if !bytes.Equal(sink.frames[i].Pix, originals[i]) {
			t.Fatalf("frame %d was modified", i)
		}
	}
}

func TestRunDetectorNotReady(t *testing.T) {
	src := newFakeSource(3, 20, 20, 30)
	sink := &fakeSink{}
	d := &fakeDetector{ready: false}

	_, err := Run(context.Background(), src, sink, d, RunOptions{})
	if !errors.Is(err, detect.ErrNotReady) {
		t.Fatalf("Run: got %v, want ErrNotReady", err)
	}
	if !sink.discarded {
		t.Fatal("sink must be discarded")
	}
	if len(sink.frames) != 0 || len(d.calls) != 0 {
		t.Fatal("no frame must be processed when the detector is not ready")
	}
}

func TestRunSourceError(t *testing.T) {
	src := newFakeSource(5, 20, 20, 30)
	src.failAt = 2
	sink := &fakeSink{}
	d := &fakeDetector{ready: true}

	_, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 1})
	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("Run: got %T (%v), want *SourceError", err, err)
	}
	if !sink.discarded {
		t.Fatal("sink must be discarded on read failure")
	}
}

func TestRunSinkWriteError(t *testing.T) {
	src := newFakeSource(3, 20, 20, 30)
	sink := &fakeSink{writeErr: errors.New("pipe closed")}
	d := &fakeDetector{ready: true}

	_, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 1})
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("Run: got %T (%v), want *SinkError", err, err)
	}
	if !sink.discarded {
		t.Fatal("sink must be discarded on write failure")
	}
}

func TestRunSinkCloseError(t *testing.T) {
	src := newFakeSource(2, 20, 20, 30)
	sink := &fakeSink{closeErr: errors.New("encoder exited")}
	d := &fakeDetector{ready: true}

	_, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 1})
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("Run: got %T (%v), want *SinkError", err, err)
	}
	if !sink.discarded {
		t.Fatal("partial output must be discarded when Close fails")
	}
}

func TestRunDetectorError(t *testing.T) {
	src := newFakeSource(3, 20, 20, 30)
	sink := &fakeSink{}
	wantErr := errors.New("inference failed")
	d := &fakeDetector{ready: true, err: wantErr}

	_, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 1})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run: got %v, want %v", err, wantErr)
	}
	if !sink.discarded {
		t.Fatal("sink must be discarded on detection failure")
	}
}

func TestRunContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := newFakeSource(3, 20, 20, 30)
	sink := &fakeSink{}
	d := &fakeDetector{ready: true}

	_, err := Run(ctx, src, sink, d, RunOptions{FrameSkip: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
	if !sink.discarded {
		t.Fatal("sink must be discarded on cancellation")
	}
}

func TestRunSummary(t *testing.T) {
	src := newFakeSource(10, 20, 20, 10)
	sink := &fakeSink{}
	d := &fakeDetector{
		ready: true,
		detects: map[int][]detect.Detection{
			0: {det("person", 0.9, 2, 2, 8, 8), det("car", 0.8, 10, 10, 6, 6)},
			5: {det("person", 0.7, 4, 4, 8, 8)},
		},
	}

	summary, err := Run(context.Background(), src, sink, d, RunOptions{FrameSkip: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalFrames != 10 {
		t.Fatalf("total frames: got %d, want 10", summary.TotalFrames)
	}
	if summary.ProcessedFrames != 2 {
		t.Fatalf("processed frames: got %d, want 2", summary.ProcessedFrames)
	}
	if summary.TotalDetections != 3 {
		t.Fatalf("total detections: got %d, want 3", summary.TotalDetections)
	}
	if summary.LabelCounts["person"] != 2 || summary.LabelCounts["car"] != 1 {
		t.Fatalf("label counts: got %v", summary.LabelCounts)
	}
	if len(summary.Frames) != 2 {
		t.Fatalf("frame results: got %d, want 2", len(summary.Frames))
	}
	if summary.Frames[0].FrameIndex != 0 || summary.Frames[1].FrameIndex != 5 {
		t.Fatalf("frame indexes: got %d, %d", summary.Frames[0].FrameIndex, summary.Frames[1].FrameIndex)
	}
	if summary.Frames[1].Timestamp != 0.5 {
		t.Fatalf("timestamp: got %v, want 0.5", summary.Frames[1].Timestamp)
	}
}

func TestRunLabelFuncReceivesOrdinals(t *testing.T) {
	src := newFakeSource(1, 20, 20, 0)
	sink := &fakeSink{}
	d := &fakeDetector{
		ready: true,
		detects: map[int][]detect.Detection{
			0: {det("a", 0.9, 2, 2, 6, 6), det("b", 0.8, 10, 10, 6, 6)},
		},
	}

	var got []string
	opts := RunOptions{
		FrameSkip: 1,
		Label: func(ordinal int, dd detect.Detection) string {
			got = append(got, fmt.Sprintf("%d:%s", ordinal, dd.Label))
			return dd.Label
		},
	}
	if _, err := Run(context.Background(), src, sink, d, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"0:a", "1:b"}
	if len(got) != len(want) {
		t.Fatalf("label calls: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("label calls: got %v, want %v", got, want)
		}
	}
}
