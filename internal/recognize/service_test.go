package recognize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamestrichardson/recognize/internal/detect"
	"github.com/jamestrichardson/recognize/internal/jobs"
	"github.com/jamestrichardson/recognize/internal/media"
	"github.com/jamestrichardson/recognize/internal/pipeline"
	"github.com/jamestrichardson/recognize/internal/storage"
)

type stubDetector struct {
	name  string
	ready bool
	dets  []detect.Detection
	err   error
}

func (d *stubDetector) Name() string { return d.name }

func (d *stubDetector) Ready() bool { return d.ready }

func (d *stubDetector) Detect(ctx context.Context, f *media.Frame) ([]detect.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.dets, nil
}

type stubScheduler struct {
	scheduled []string
	err       error
}

func (s *stubScheduler) Schedule(ctx context.Context, job *jobs.Job) error {
	s.scheduled = append(s.scheduled, job.ID)
	return s.err
}

func newTestService(t *testing.T, face, object detect.Detector, scheduler jobs.Scheduler) *Service {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore returned error: %v", err)
	}
	return NewService(ServiceOptions{
		Store:     store,
		Face:      face,
		Object:    object,
		Manager:   jobs.NewManager(jobs.NewMemoryStore()),
		Scheduler: scheduler,
	})
}

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
	return path
}

func TestDetectSyncFaceImage(t *testing.T) {
	face := &stubDetector{name: "face", ready: true, dets: []detect.Detection{
		{Label: detect.FaceLabel, Confidence: 1.0, Box: detect.BBox{X: 10, Y: 10, Width: 20, Height: 20}},
	}}
	svc := newTestService(t, face, &stubDetector{name: "object"}, nil)
	input := writeTestImage(t, svc.store.Dir(), "photo.png")

	result, err := svc.DetectSync(context.Background(), jobs.KindFaceImage, input, jobs.Params{FrameSkip: 1})
	if err != nil {
		t.Fatalf("DetectSync returned error: %v", err)
	}

	if result["success"] != true {
		t.Fatalf("unexpected success flag: %#v", result["success"])
	}
	if result["faces_detected"] != 1 {
		t.Fatalf("faces_detected = %#v, want 1", result["faces_detected"])
	}
	faces, ok := result["faces"].([]faceEntry)
	if !ok || len(faces) != 1 {
		t.Fatalf("unexpected faces payload: %#v", result["faces"])
	}
	if faces[0].FaceID != 1 || faces[0].Confidence != 1.0 {
		t.Fatalf("unexpected face entry: %+v", faces[0])
	}
	if result["original_image"] != input {
		t.Fatalf("original_image = %#v, want %s", result["original_image"], input)
	}

	annotated, ok := result["annotated_image"].(string)
	if !ok {
		t.Fatalf("annotated_image is not a string: %#v", result["annotated_image"])
	}
	if _, err := os.Stat(annotated); err != nil {
		t.Fatalf("annotated image was not written: %v", err)
	}
}

func TestDetectSyncObjectImage(t *testing.T) {
	object := &stubDetector{name: "object", ready: true, dets: []detect.Detection{
		{Label: "person", Confidence: 0.9, Box: detect.BBox{X: 5, Y: 5, Width: 20, Height: 20}},
		{Label: "dog", Confidence: 0.8, Box: detect.BBox{X: 30, Y: 10, Width: 15, Height: 15}},
	}}
	svc := newTestService(t, &stubDetector{name: "face"}, object, nil)
	input := writeTestImage(t, svc.store.Dir(), "street.png")

	result, err := svc.DetectSync(context.Background(), jobs.KindObjectImage, input, jobs.Params{})
	if err != nil {
		t.Fatalf("DetectSync returned error: %v", err)
	}

	if result["objects_detected"] != 2 {
		t.Fatalf("objects_detected = %#v, want 2", result["objects_detected"])
	}
	objects, ok := result["objects"].([]objectEntry)
	if !ok || len(objects) != 2 {
		t.Fatalf("unexpected objects payload: %#v", result["objects"])
	}
	if objects[0].Class != "person" || objects[1].Class != "dog" {
		t.Fatalf("unexpected object classes: %+v", objects)
	}
}

func TestDetectSyncNoDetections(t *testing.T) {
	face := &stubDetector{name: "face", ready: true}
	svc := newTestService(t, face, &stubDetector{name: "object"}, nil)
	input := writeTestImage(t, svc.store.Dir(), "empty.png")

	result, err := svc.DetectSync(context.Background(), jobs.KindFaceImage, input, jobs.Params{})
	if err != nil {
		t.Fatalf("DetectSync returned error: %v", err)
	}
	if result["faces_detected"] != 0 {
		t.Fatalf("faces_detected = %#v, want 0", result["faces_detected"])
	}
	faces, ok := result["faces"].([]faceEntry)
	if !ok || len(faces) != 0 {
		t.Fatalf("expected empty faces list, got %#v", result["faces"])
	}
	// 検出ゼロでも注釈なしの出力ファイルは生成される
	if _, err := os.Stat(storage.AnnotatedPath(input)); err != nil {
		t.Fatalf("annotated image was not written: %v", err)
	}
}

func TestDetectSyncDetectorNotReady(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face"}, &stubDetector{name: "object"}, nil)
	input := writeTestImage(t, svc.store.Dir(), "photo.png")

	_, err := svc.DetectSync(context.Background(), jobs.KindFaceImage, input, jobs.Params{})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeDetectorUnavailable {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(storage.AnnotatedPath(input)); !os.IsNotExist(err) {
		t.Fatalf("expected no annotated output, stat err=%v", err)
	}
}

func TestDetectSyncUnreadableImage(t *testing.T) {
	face := &stubDetector{name: "face", ready: true}
	svc := newTestService(t, face, &stubDetector{name: "object"}, nil)
	input := filepath.Join(svc.store.Dir(), "broken.png")
	if err := os.WriteFile(input, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("failed to write broken file: %v", err)
	}

	_, err := svc.DetectSync(context.Background(), jobs.KindFaceImage, input, jobs.Params{})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeMediaRead {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(storage.AnnotatedPath(input)); !os.IsNotExist(err) {
		t.Fatalf("expected no annotated output, stat err=%v", err)
	}
}

func TestDetectSyncInvalidFrameSkip(t *testing.T) {
	face := &stubDetector{name: "face", ready: true}
	svc := newTestService(t, face, &stubDetector{name: "object"}, nil)

	_, err := svc.DetectSync(context.Background(), jobs.KindFaceVideo, "clip.mp4", jobs.Params{FrameSkip: 0})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeInvalidParams {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDetectSyncUnknownKind(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face"}, &stubDetector{name: "object"}, nil)

	_, err := svc.DetectSync(context.Background(), jobs.Kind("bogus"), "input.png", jobs.Params{})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeInvalidParams {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSaveUploadStoresFile(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face"}, &stubDetector{name: "object"}, nil)

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}

	stored, err := svc.SaveUpload(bytes.NewReader(buf.Bytes()), "photo.png", jobs.KindFaceImage)
	if err != nil {
		t.Fatalf("SaveUpload returned error: %v", err)
	}
	if _, err := os.Stat(stored.Path); err != nil {
		t.Fatalf("stored file does not exist: %v", err)
	}
}

func TestSaveUploadRejectsWrongContent(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face"}, &stubDetector{name: "object"}, nil)

	_, err := svc.SaveUpload(bytes.NewReader([]byte("plain text, not an image")), "note.png", jobs.KindFaceImage)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeInvalidParams {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmitJobQueuesPending(t *testing.T) {
	scheduler := &stubScheduler{}
	svc := newTestService(t, &stubDetector{name: "face", ready: true}, &stubDetector{name: "object"}, scheduler)
	input := writeTestImage(t, svc.store.Dir(), "photo.png")

	job, err := svc.SubmitJob(context.Background(), jobs.KindFaceImage, input, jobs.Params{FrameSkip: 1})
	if err != nil {
		t.Fatalf("SubmitJob returned error: %v", err)
	}
	if job.State != jobs.StatePending {
		t.Fatalf("job state = %s, want %s", job.State, jobs.StatePending)
	}
	if len(scheduler.scheduled) != 1 || scheduler.scheduled[0] != job.ID {
		t.Fatalf("job was not scheduled: %#v", scheduler.scheduled)
	}
	if _, err := svc.JobStatus(context.Background(), job.ID); err != nil {
		t.Fatalf("JobStatus returned error: %v", err)
	}
}

func TestSubmitJobMissingFile(t *testing.T) {
	scheduler := &stubScheduler{}
	svc := newTestService(t, &stubDetector{name: "face", ready: true}, &stubDetector{name: "object"}, scheduler)

	_, err := svc.SubmitJob(context.Background(), jobs.KindFaceImage, filepath.Join(svc.store.Dir(), "missing.png"), jobs.Params{})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeFileUnavailable {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmitJobScheduleFailureDiscardsJob(t *testing.T) {
	scheduler := &stubScheduler{err: errors.New("queue down")}
	svc := newTestService(t, &stubDetector{name: "face", ready: true}, &stubDetector{name: "object"}, scheduler)
	input := writeTestImage(t, svc.store.Dir(), "photo.png")

	_, err := svc.SubmitJob(context.Background(), jobs.KindFaceImage, input, jobs.Params{FrameSkip: 1})
	if err == nil {
		t.Fatal("expected error when scheduling fails")
	}
	if len(scheduler.scheduled) != 1 {
		t.Fatalf("expected one schedule attempt, got %d", len(scheduler.scheduled))
	}

	// 投入に失敗したジョブは照会できない
	_, err = svc.JobStatus(context.Background(), scheduler.scheduled[0])
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeJobNotFound {
		t.Fatalf("expected discarded job, got %v", err)
	}
}

func TestExecuteJobReportsStatus(t *testing.T) {
	face := &stubDetector{name: "face", ready: true, dets: []detect.Detection{
		{Label: detect.FaceLabel, Confidence: 1.0, Box: detect.BBox{X: 4, Y: 4, Width: 10, Height: 10}},
	}}
	svc := newTestService(t, face, &stubDetector{name: "object"}, &stubScheduler{})
	input := writeTestImage(t, svc.store.Dir(), "photo.png")

	job, err := svc.manager.Submit(context.Background(), jobs.KindFaceImage, input, jobs.Params{})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	var reports []string
	result, err := svc.ExecuteJob(context.Background(), job, func(message string) {
		reports = append(reports, message)
	})
	if err != nil {
		t.Fatalf("ExecuteJob returned error: %v", err)
	}

	payload, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result is not a payload map: %#v", result)
	}
	if payload["faces_detected"] != 1 {
		t.Fatalf("faces_detected = %#v, want 1", payload["faces_detected"])
	}

	want := []string{"Initializing face detection service", "Detecting faces in image"}
	if len(reports) != len(want) {
		t.Fatalf("unexpected status reports: %#v", reports)
	}
	for i, msg := range want {
		if reports[i] != msg {
			t.Fatalf("reports[%d] = %q, want %q", i, reports[i], msg)
		}
	}
}

func TestJobStatusNotFound(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face"}, &stubDetector{name: "object"}, nil)

	_, err := svc.JobStatus(context.Background(), "missing-id")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeJobNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealthSyncMode(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face", ready: true}, &stubDetector{name: "object"}, nil)

	health := svc.Health()
	if health["status"] != "healthy" || health["mode"] != "sync" {
		t.Fatalf("unexpected health payload: %#v", health)
	}
	services, ok := health["services"].(map[string]any)
	if !ok {
		t.Fatalf("services is not a map: %#v", health["services"])
	}
	if services["facial_recognition"] != true {
		t.Fatalf("facial_recognition = %#v, want true", services["facial_recognition"])
	}
	if services["object_detection"] != false {
		t.Fatalf("object_detection = %#v, want false", services["object_detection"])
	}
	if _, ok := services["task_queue"]; ok {
		t.Fatal("task_queue should not be reported in sync mode")
	}
}

func TestHealthAsyncMode(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face", ready: true}, &stubDetector{name: "object", ready: true}, &stubScheduler{})

	health := svc.Health()
	if health["mode"] != "async" {
		t.Fatalf("mode = %#v, want async", health["mode"])
	}
	services := health["services"].(map[string]any)
	if services["task_queue"] != true {
		t.Fatalf("task_queue = %#v, want true", services["task_queue"])
	}
}

func TestClassifyRunError(t *testing.T) {
	svc := newTestService(t, &stubDetector{name: "face"}, &stubDetector{name: "object"}, nil)

	cases := []struct {
		name string
		err  error
		code string
	}{
		{"not ready", detect.ErrNotReady, CodeDetectorUnavailable},
		{"source", &pipeline.SourceError{Err: errors.New("bad frame")}, CodeMediaRead},
		{"sink", &pipeline.SinkError{Err: errors.New("encode failed")}, CodeMediaWrite},
	}
	for _, tc := range cases {
		got := svc.classifyRunError(tc.err)
		var apiErr *Error
		if !errors.As(got, &apiErr) || apiErr.Code != tc.code {
			t.Fatalf("%s: unexpected error: %v", tc.name, got)
		}
	}

	// キャンセルは分類せず境界層へ渡す
	got := svc.classifyRunError(context.Canceled)
	if !errors.Is(got, context.Canceled) {
		t.Fatalf("canceled error was rewrapped: %v", got)
	}
}

func TestLabelFuncFor(t *testing.T) {
	d := detect.Detection{Label: "person", Confidence: 0.875}

	if fn := labelFuncFor(jobs.KindFaceImage); fn == nil || fn(0, d) != "Face 1" {
		t.Fatal("unexpected face image label")
	}
	if fn := labelFuncFor(jobs.KindObjectImage); fn == nil || fn(0, d) != "person 0.88" {
		t.Fatalf("unexpected object image label: %q", labelFuncFor(jobs.KindObjectImage)(0, d))
	}
	if fn := labelFuncFor(jobs.KindObjectVideo); fn == nil || fn(2, d) != "person" {
		t.Fatal("unexpected object video label")
	}
	if fn := labelFuncFor(jobs.KindFaceVideo); fn != nil {
		t.Fatal("face video should draw boxes without labels")
	}
}
