// Package recognize は顔検出・物体検出APIのサービス層を提供します。
// アップロードの保存、検出ジョブの投入と実行、結果ペイロードの組み立てを担当します。
package recognize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jamestrichardson/recognize/internal/detect"
	"github.com/jamestrichardson/recognize/internal/jobs"
	"github.com/jamestrichardson/recognize/internal/media"
	"github.com/jamestrichardson/recognize/internal/pipeline"
	"github.com/jamestrichardson/recognize/internal/storage"
)

// ServiceOptions は Service の依存関係です。
type ServiceOptions struct {
	Store   *storage.LocalStore
	Face    detect.Detector
	Object  detect.Detector
	Manager *jobs.Manager
	// Scheduler が nil の場合、検出リクエストは同期モードで処理されます。
	Scheduler jobs.Scheduler
	Logger    *logrus.Logger

	FFmpegPath  string
	FFprobePath string
}

// Service は検出APIのユースケースを実装します。
type Service struct {
	store     *storage.LocalStore
	face      detect.Detector
	object    detect.Detector
	manager   *jobs.Manager
	scheduler jobs.Scheduler
	logger    *logrus.Logger

	ffmpeg  string
	ffprobe string
}

// NewService は Service を作成します。
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := opts.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Service{
		store:     opts.Store,
		face:      opts.Face,
		object:    opts.Object,
		manager:   opts.Manager,
		scheduler: opts.Scheduler,
		logger:    logger,
		ffmpeg:    ffmpeg,
		ffprobe:   ffprobe,
	}
}

// Async は非同期キューが構成されているかを返します。
func (s *Service) Async() bool { return s.scheduler != nil }

// SaveUpload はアップロードされたファイルを検証して保存します。
func (s *Service) SaveUpload(r io.ReadSeeker, filename string, kind jobs.Kind) (*storage.StoredFile, error) {
	class := storage.ClassImage
	if kind.IsVideo() {
		class = storage.ClassVideo
	}
	stored, err := s.store.Save(r, filename, class)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			allowed := strings.Join(storage.AllowedExtensions(class), ", ")
			return nil, newError(CodeInvalidParams,
				fmt.Sprintf("対応していないファイル形式です。利用可能な形式: %s", allowed), err)
		}
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return stored, nil
}

// SubmitJob は検出ジョブを作成してキューへ投入します。
// 投入に失敗した場合は作成済みのジョブを破棄します。
func (s *Service) SubmitJob(ctx context.Context, kind jobs.Kind, inputPath string, params jobs.Params) (*jobs.Job, error) {
	job, err := s.manager.Submit(ctx, kind, inputPath, params)
	if err != nil {
		return nil, s.wrapJobsError(err)
	}
	if err := s.scheduler.Schedule(ctx, job); err != nil {
		if derr := s.manager.Discard(ctx, job.ID); derr != nil {
			err = fmt.Errorf("%w (discard failed: %v)", err, derr)
		}
		return nil, fmt.Errorf("schedule job: %w", err)
	}
	return job, nil
}

// DetectSync は検出を同期実行し、結果ペイロードを返します。
func (s *Service) DetectSync(ctx context.Context, kind jobs.Kind, inputPath string, params jobs.Params) (map[string]any, error) {
	if !kind.Valid() {
		return nil, newError(CodeInvalidParams, fmt.Sprintf("不明な処理種別です: %s", kind), nil)
	}
	frameSkip := 1
	if kind.IsVideo() {
		if params.FrameSkip < 1 {
			return nil, newError(CodeInvalidParams, "frame_skip は1以上で指定してください。", nil)
		}
		frameSkip = params.FrameSkip
	}
	return s.runDetection(ctx, kind, inputPath, frameSkip, nil)
}

// ExecuteJob はワーカーから呼び出され、1件のジョブの検出を実行します。
func (s *Service) ExecuteJob(ctx context.Context, job *jobs.Job, report jobs.StatusReporter) (any, error) {
	result, err := s.runDetection(ctx, job.Kind, job.InputPath, job.Params.FrameSkip, report)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// JobStatus はジョブの現在状態のスナップショットを返します。
func (s *Service) JobStatus(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := s.manager.Get(ctx, id)
	if err != nil {
		return nil, s.wrapJobsError(err)
	}
	return job, nil
}

// Health はサービスの稼働状態を返します。
func (s *Service) Health() map[string]any {
	mode := "sync"
	services := map[string]any{
		"facial_recognition": s.face != nil && s.face.Ready(),
		"object_detection":   s.object != nil && s.object.Ready(),
	}
	if s.Async() {
		mode = "async"
		services["task_queue"] = true
	}
	return map[string]any{
		"status":   "healthy",
		"mode":     mode,
		"services": services,
	}
}

func (s *Service) runDetection(ctx context.Context, kind jobs.Kind, inputPath string, frameSkip int, report jobs.StatusReporter) (map[string]any, error) {
	det := s.detectorFor(kind)
	if det == nil || !det.Ready() {
		return nil, newError(CodeDetectorUnavailable, "検出器が利用できません。", detect.ErrNotReady)
	}

	reportStatus(report, initializingMessage(kind))

	outputPath := storage.AnnotatedPath(inputPath)

	var (
		src media.FrameSource
		snk media.FrameSink
	)
	if kind.IsVideo() {
		vs, err := media.OpenVideo(ctx, s.ffmpeg, s.ffprobe, inputPath)
		if err != nil {
			return nil, newError(CodeMediaRead, "動画の読み込みに失敗しました。", err)
		}
		src = vs
		vk, err := media.CreateVideoSink(ctx, s.ffmpeg, outputPath, vs.Meta())
		if err != nil {
			_ = vs.Close()
			return nil, newError(CodeMediaWrite, "注釈付き動画の作成に失敗しました。", err)
		}
		snk = vk
	} else {
		is, err := media.OpenImage(inputPath)
		if err != nil {
			return nil, newError(CodeMediaRead, "画像の読み込みに失敗しました。", err)
		}
		src = is
		ik, err := media.CreateImageSink(outputPath)
		if err != nil {
			_ = is.Close()
			return nil, newError(CodeMediaWrite, "注釈付き画像の作成に失敗しました。", err)
		}
		snk = ik
	}
	defer src.Close()

	reportStatus(report, processingMessage(kind))

	summary, err := pipeline.Run(ctx, src, snk, det, pipeline.RunOptions{
		FrameSkip: frameSkip,
		Label:     labelFuncFor(kind),
	})
	if err != nil {
		return nil, s.classifyRunError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"kind":       string(kind),
		"input":      inputPath,
		"frames":     summary.TotalFrames,
		"detections": summary.TotalDetections,
	}).Info("detection completed")

	return buildResult(kind, inputPath, outputPath, summary), nil
}

func (s *Service) detectorFor(kind jobs.Kind) detect.Detector {
	if kind.IsFace() {
		return s.face
	}
	return s.object
}

// classifyRunError はパイプラインの失敗をAPIエラーへ分類します。
// キャンセルと検出器実行時の失敗は分類せずそのまま返します。
func (s *Service) classifyRunError(err error) error {
	var srcErr *pipeline.SourceError
	var sinkErr *pipeline.SinkError
	switch {
	case errors.Is(err, detect.ErrNotReady):
		return newError(CodeDetectorUnavailable, "検出器が利用できません。", err)
	case errors.As(err, &srcErr):
		return newError(CodeMediaRead, "メディアの読み込みに失敗しました。", err)
	case errors.As(err, &sinkErr):
		return newError(CodeMediaWrite, "注釈付きメディアの書き出しに失敗しました。", err)
	default:
		return err
	}
}

func (s *Service) wrapJobsError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrInvalidParams):
		return newError(CodeInvalidParams, "リクエストパラメーターが不正です。", err)
	case errors.Is(err, jobs.ErrFileUnavailable):
		return newError(CodeFileUnavailable, "アップロードされたファイルにアクセスできません。", err)
	case errors.Is(err, jobs.ErrNotFound):
		return newError(CodeJobNotFound, "指定されたタスクは存在しません。", err)
	case errors.Is(err, jobs.ErrInvalidTransition):
		return newError(CodeInvalidTransition, "ジョブの状態遷移が不正です。", err)
	default:
		return err
	}
}

func reportStatus(report jobs.StatusReporter, message string) {
	if report != nil {
		report(message)
	}
}

func initializingMessage(kind jobs.Kind) string {
	if kind.IsFace() {
		return "Initializing face detection service"
	}
	return "Initializing object detection service"
}

func processingMessage(kind jobs.Kind) string {
	if kind.IsVideo() {
		return "Processing video frames"
	}
	if kind.IsFace() {
		return "Detecting faces in image"
	}
	return "Detecting objects in image"
}

// labelFuncFor は種別ごとの注釈ラベル書式を返します。顔検出の動画は枠のみ描画します。
func labelFuncFor(kind jobs.Kind) pipeline.LabelFunc {
	switch kind {
	case jobs.KindFaceImage:
		return func(ordinal int, d detect.Detection) string {
			return fmt.Sprintf("Face %d", ordinal+1)
		}
	case jobs.KindObjectImage:
		return func(ordinal int, d detect.Detection) string {
			return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		}
	case jobs.KindObjectVideo:
		return func(ordinal int, d detect.Detection) string {
			return d.Label
		}
	default:
		return nil
	}
}
