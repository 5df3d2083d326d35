// Package main は検出APIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jamestrichardson/recognize/internal/config"
	"github.com/jamestrichardson/recognize/internal/detect"
	"github.com/jamestrichardson/recognize/internal/recognize"
	"github.com/jamestrichardson/recognize/internal/storage"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.Use(limitBodySize(cfg.MaxContentLength))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	router.Use(cors.New(corsConfig))

	// アップロード保存先の準備
	store, err := storage.NewLocalStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("Failed to prepare upload directory: %v", err)
	}

	// 検出器の初期化（モデルが無くても起動は継続し、該当APIは503を返す）
	faceParams := detect.DefaultFaceParams()
	faceParams.MinConfidence = cfg.FaceConfidence
	face, err := detect.NewFaceDetector(cfg.FaceCascadePath, faceParams)
	if err != nil {
		logger.Warnf("Face detector is not available: %v", err)
	}
	object := newObjectDetector(cfg, logger)

	// ジョブ基盤の組み立て
	rt, err := setupJobs(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup job runtime: %v", err)
	}

	svc := recognize.NewService(recognize.ServiceOptions{
		Store:       store,
		Face:        face,
		Object:      object,
		Manager:     rt.manager,
		Scheduler:   rt.scheduler,
		Logger:      logger,
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	})

	// ワーカーの起動（syncモードでは何もしない）
	rt.start(svc.ExecuteJob)

	// ルーティングの設定
	recognize.RegisterRoutes(router, svc, recognize.RouterOptions{
		DefaultFrameSkip: cfg.VideoFrameSkip,
		UploadDir:        store.Dir(),
	})

	// サーバーの起動
	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Infof("Starting API server on %s (mode: %s)", addr, cfg.DetectMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// SIGINT/SIGTERM を待ってグレースフルに停止する
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	rt.stop()
	logger.Info("Server stopped")
}

// newLogger は設定に従ってlogrusロガーを構成します。
func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// limitBodySize はリクエストボディのサイズを制限するミドルウェアです。
// 超過すると以降の読み取りで *http.MaxBytesError が発生します。
func limitBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// newObjectDetector は外部コマンドモデルとクラス名一覧から物体検出器を組み立てます。
func newObjectDetector(cfg *config.Config, logger *logrus.Logger) *detect.ObjectDetector {
	labels, err := detect.LoadLabels(cfg.YOLONamesPath)
	if err != nil {
		logger.Warnf("Object class names are not available: %v", err)
	}

	model := &detect.ExecModel{}
	if cfg.ObjectModelCmd != "" {
		fields := strings.Fields(cfg.ObjectModelCmd)
		model.Command = fields[0]
		model.Args = append(fields[1:],
			"--weights", cfg.YOLOWeightsPath,
			"--config", cfg.YOLOConfigPath,
		)
	}

	return detect.NewObjectDetector(model, detect.PostProcessor{
		ConfidenceThreshold: cfg.ObjectConfidence,
		NMSThreshold:        cfg.NMSThreshold,
		Labels:              labels,
	})
}
