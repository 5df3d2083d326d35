package recognize

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jamestrichardson/recognize/internal/jobs"
	"github.com/jamestrichardson/recognize/internal/storage"
)

// DetectService は検出エンドポイントが利用する操作です。
type DetectService interface {
	Async() bool
	SaveUpload(r io.ReadSeeker, filename string, kind jobs.Kind) (*storage.StoredFile, error)
	SubmitJob(ctx context.Context, kind jobs.Kind, inputPath string, params jobs.Params) (*jobs.Job, error)
	DetectSync(ctx context.Context, kind jobs.Kind, inputPath string, params jobs.Params) (map[string]any, error)
}

// StatusService はタスク状態照会エンドポイントが利用する操作です。
type StatusService interface {
	JobStatus(ctx context.Context, id string) (*jobs.Job, error)
}

// HealthService はヘルスチェックエンドポイントが利用する操作です。
type HealthService interface {
	Health() map[string]any
}

// HandlerOptions は検出ハンドラー共通の設定です。
type HandlerOptions struct {
	// DefaultFrameSkip は frame_skip 未指定時の間引き間隔です。
	DefaultFrameSkip int
}

// DetectHandler は POST /api/detect/{face,object}/{image,video} のハンドラーを返します。
// 非同期キューが構成されている場合はジョブを投入して 202 を返し、
// そうでない場合は同期実行して結果を返します。
func DetectHandler(svc DetectService, kind jobs.Kind, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondError(c, http.StatusRequestEntityTooLarge, CodeFileTooLarge, "ファイルサイズが大きすぎます。")
				return
			}
			respondError(c, http.StatusBadRequest, CodeInvalidParams, "ファイルが指定されていません。")
			return
		}
		if fh.Filename == "" {
			respondError(c, http.StatusBadRequest, CodeInvalidParams, "ファイルが選択されていません。")
			return
		}

		params := jobs.Params{FrameSkip: 1}
		if kind.IsVideo() {
			frameSkip, perr := parseFrameSkip(c, opts.DefaultFrameSkip)
			if perr != nil {
				respondError(c, http.StatusBadRequest, CodeInvalidParams, perr.Error())
				return
			}
			params.FrameSkip = frameSkip
		}

		file, err := fh.Open()
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer file.Close()

		stored, err := svc.SaveUpload(file, fh.Filename, kind)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if svc.Async() {
			job, err := svc.SubmitJob(c.Request.Context(), kind, stored.Path, params)
			if err != nil {
				respondWithError(c, err)
				return
			}
			respondSuccess(c, http.StatusAccepted, gin.H{
				"task_id": job.ID,
				"status":  "queued",
				"message": queuedMessage(kind),
			})
			return
		}

		result, err := svc.DetectSync(c.Request.Context(), kind, stored.Path, params)
		if err != nil {
			respondWithError(c, err)
			return
		}
		respondSuccess(c, http.StatusOK, result)
	}
}

// TaskStatusHandler は GET /api/task/:task_id のハンドラーを返します。
func TaskStatusHandler(svc StatusService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("task_id"))
		if id == "" {
			respondError(c, http.StatusBadRequest, CodeInvalidParams, "task_id を指定してください。")
			return
		}

		job, err := svc.JobStatus(c.Request.Context(), id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		respondSuccess(c, http.StatusOK, taskStatusPayload(job))
	}
}

// taskStatusPayload はジョブ状態ごとのレスポンスを組み立てます。
func taskStatusPayload(job *jobs.Job) gin.H {
	switch job.State {
	case jobs.StatePending:
		return gin.H{"state": string(job.State), "status": "Task is waiting in queue..."}
	case jobs.StateProcessing:
		status := job.StatusMessage
		if status == "" {
			status = "Processing..."
		}
		return gin.H{"state": string(job.State), "status": status}
	case jobs.StateSuccess:
		return gin.H{"state": string(job.State), "result": job.Result}
	case jobs.StateFailure:
		return gin.H{"state": string(job.State), "status": job.Error}
	default:
		return gin.H{"state": string(job.State), "status": "Unknown state"}
	}
}

// UploadsHandler は GET /api/uploads/:filename のハンドラーを返します。
// アップロードディレクトリ直下のファイルのみを配信します。
func UploadsHandler(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("filename")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			respondError(c, http.StatusNotFound, CodeFileNotFound, "ファイルが見つかりません。")
			return
		}
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			respondError(c, http.StatusNotFound, CodeFileNotFound, "ファイルが見つかりません。")
			return
		}
		c.File(path)
	}
}

// HealthHandler は GET /api/health のハンドラーを返します。
func HealthHandler(svc HealthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		respondSuccess(c, http.StatusOK, svc.Health())
	}
}

// RouterOptions はルーティング全体の設定です。
type RouterOptions struct {
	DefaultFrameSkip int
	UploadDir        string
}

// RegisterRoutes は検出APIの全ルートを登録します。
func RegisterRoutes(router *gin.Engine, svc *Service, opts RouterOptions) {
	h := HandlerOptions{DefaultFrameSkip: opts.DefaultFrameSkip}

	api := router.Group("/api")
	{
		api.GET("/health", HealthHandler(svc))

		detectRoutes := api.Group("/detect")
		{
			detectRoutes.POST("/face/image", DetectHandler(svc, jobs.KindFaceImage, h))
			detectRoutes.POST("/face/video", DetectHandler(svc, jobs.KindFaceVideo, h))
			detectRoutes.POST("/object/image", DetectHandler(svc, jobs.KindObjectImage, h))
			detectRoutes.POST("/object/video", DetectHandler(svc, jobs.KindObjectVideo, h))
		}

		api.GET("/task/:task_id", TaskStatusHandler(svc))
		api.GET("/uploads/:filename", UploadsHandler(opts.UploadDir))
	}
}

// parseFrameSkip は frame_skip フォーム値を解釈します。
// 未指定または数値でない場合は設定のデフォルト値を使います。
func parseFrameSkip(c *gin.Context, def int) (int, error) {
	raw := strings.TrimSpace(c.PostForm("frame_skip"))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, nil
	}
	if v < 1 {
		return 0, errors.New("frame_skip は1以上で指定してください。")
	}
	return v, nil
}

func queuedMessage(kind jobs.Kind) string {
	if kind.IsFace() {
		return "Face detection task queued. Use task_id to check status."
	}
	return "Object detection task queued. Use task_id to check status."
}

// respondWithError はサービス層のエラーをHTTPレスポンスへ変換します。
func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		respondError(c, statusForCode(apiErr.Code), apiErr.Code, apiErr.Message)
	case errors.Is(err, context.Canceled):
		respondError(c, http.StatusRequestTimeout, "REQUEST_CANCELED", "リクエストがキャンセルされました。")
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました。")
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeInvalidParams:
		return http.StatusBadRequest
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeFileUnavailable, CodeJobNotFound, CodeFileNotFound:
		return http.StatusNotFound
	case CodeDetectorUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
