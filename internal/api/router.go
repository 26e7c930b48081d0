package api

import (
	"github.com/gin-gonic/gin"
	"github.com/meetscribe/voice-service/internal/api/handlers"
	"github.com/meetscribe/voice-service/internal/api/middleware"
	"github.com/meetscribe/voice-service/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, voiceHandler *handlers.VoiceHandler) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())

	// 全局中间件
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics())

	// 健康检查（无需限流）
	r.GET("/healthz", voiceHandler.Health)
	r.GET("/readyz", voiceHandler.Health)

	// 指标抓取
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// 语音接口
	voice := r.Group("/api/voice")
	voice.Use(middleware.RateLimit(&cfg.Security.RateLimit))
	{
		voice.POST("/upload", voiceHandler.Upload)
		voice.POST("/transcribe", voiceHandler.Transcribe)
		voice.POST("/stop/:file_id", voiceHandler.Stop)
		voice.GET("/status/:file_id", voiceHandler.Status)
		voice.GET("/result/:file_id", voiceHandler.Result)

		voice.GET("/files", voiceHandler.ListFiles)
		voice.GET("/files/:file_id", voiceHandler.GetFile)
		voice.PATCH("/files/:file_id", voiceHandler.PatchFile)
		voice.DELETE("/files/:file_id", voiceHandler.DeleteFile)

		voice.POST("/generate_summary/:file_id", voiceHandler.GenerateSummary)
		voice.DELETE("/summary/:file_id", voiceHandler.DeleteSummary)

		voice.GET("/audio/:file_id", voiceHandler.Audio)
		voice.GET("/download_transcript/:file_id", voiceHandler.DownloadTranscript)
		voice.GET("/download_summary/:file_id", voiceHandler.DownloadSummary)
		voice.GET("/transcript_files", voiceHandler.TranscriptFiles)

		voice.GET("/history", voiceHandler.History)
		voice.GET("/languages", voiceHandler.LanguagesHandler)

		voice.GET("/ws", voiceHandler.WebSocket)
	}

	return r
}
