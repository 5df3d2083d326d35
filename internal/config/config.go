// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port       string // APIサーバーのポート番号
	GinMode    string // Ginの実行モード (debug, release, test)
	DetectMode string // 検出APIの動作モード (async, sync)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード設定
	UploadDir        string // アップロードファイルの保存先ディレクトリ
	MaxContentLength int64  // リクエストボディの最大サイズ（バイト）

	// モデル設定
	ModelsDir       string // 学習済みモデルの配置ディレクトリ
	FaceCascadePath string // 顔検出カスケードファイルのパス
	YOLOWeightsPath string // YOLO重みファイルのパス
	YOLOConfigPath  string // YOLO設定ファイルのパス
	YOLONamesPath   string // クラス名一覧ファイルのパス
	ObjectModelCmd  string // 物体検出モデルを実行する外部コマンド

	// 検出パラメータ
	FaceConfidence   float64 // 顔検出の信頼度しきい値
	ObjectConfidence float64 // 物体検出の信頼度しきい値
	NMSThreshold     float64 // Non-Maximum SuppressionのIoUしきい値
	VideoFrameSkip   int     // 動画処理時のフレーム間引き間隔

	// ジョブ/キュー設定
	WorkerCount   int    // ジョブを並行処理するワーカー数
	QueueRedisURL string // Asynq用Redis接続URL（空の場合はプロセス内ワーカーを使用）
	JobTTLMinutes int    // ジョブレコードの保持期間（分、0は無期限）

	// 動画処理設定
	FFmpegPath  string // ffmpeg実行ファイルのパス
	FFprobePath string // ffprobe実行ファイルのパス

	// ログ設定
	LogLevel  string // ログレベル (debug, info, warn, error)
	LogFormat string // ログ出力形式 (text, json)
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	modelsDir := getEnv("MODELS_DIR", "models")

	config := &Config{
		// サーバー設定
		Port:       getEnv("PORT", "8080"),
		GinMode:    getEnv("GIN_MODE", "debug"),
		DetectMode: getEnv("DETECT_MODE", "async"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// アップロード設定
		UploadDir:        getEnv("UPLOAD_FOLDER", "uploads"),
		MaxContentLength: getEnvAsInt64("MAX_CONTENT_LENGTH", 104857600), // 100MB

		// モデル設定
		ModelsDir:       modelsDir,
		FaceCascadePath: getEnv("FACE_CASCADE_PATH", filepath.Join(modelsDir, "facefinder")),
		YOLOWeightsPath: getEnv("YOLO_WEIGHTS_PATH", filepath.Join(modelsDir, "yolov3.weights")),
		YOLOConfigPath:  getEnv("YOLO_CONFIG_PATH", filepath.Join(modelsDir, "yolov3.cfg")),
		YOLONamesPath:   getEnv("YOLO_NAMES_PATH", filepath.Join(modelsDir, "coco.names")),
		ObjectModelCmd:  getEnv("OBJECT_MODEL_CMD", ""),

		// 検出パラメータ
		FaceConfidence:   getEnvAsFloat("FACE_DETECTION_CONFIDENCE", 0.5),
		ObjectConfidence: getEnvAsFloat("OBJECT_DETECTION_CONFIDENCE", 0.5),
		NMSThreshold:     getEnvAsFloat("NMS_THRESHOLD", 0.4),
		VideoFrameSkip:   getEnvAsInt("VIDEO_FRAME_SKIP", 5),

		// ジョブ/キュー設定
		WorkerCount:   getEnvAsInt("WORKER_COUNT", 4),
		QueueRedisURL: getEnv("QUEUE_REDIS_URL", ""),
		JobTTLMinutes: getEnvAsInt("JOB_TTL_MINUTES", 0),

		// 動画処理設定
		FFmpegPath:  getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_BIN", "ffprobe"),

		// ログ設定
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.DetectMode != "async" && c.DetectMode != "sync" {
		return fmt.Errorf("DETECT_MODE must be async or sync, got %q", c.DetectMode)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_FOLDER must not be empty")
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	}
	if c.FaceConfidence < 0 || c.FaceConfidence > 1 {
		return fmt.Errorf("FACE_DETECTION_CONFIDENCE must be in [0,1], got %v", c.FaceConfidence)
	}
	if c.ObjectConfidence < 0 || c.ObjectConfidence > 1 {
		return fmt.Errorf("OBJECT_DETECTION_CONFIDENCE must be in [0,1], got %v", c.ObjectConfidence)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("NMS_THRESHOLD must be in [0,1], got %v", c.NMSThreshold)
	}
	if c.VideoFrameSkip < 1 {
		return fmt.Errorf("VIDEO_FRAME_SKIP must be >= 1, got %d", c.VideoFrameSkip)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be >= 1, got %d", c.WorkerCount)
	}
	if c.JobTTLMinutes < 0 {
		return fmt.Errorf("JOB_TTL_MINUTES must be >= 0, got %d", c.JobTTLMinutes)
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します。
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
