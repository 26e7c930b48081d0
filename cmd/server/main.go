package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/meetscribe/voice-service/internal/api"
	"github.com/meetscribe/voice-service/internal/api/handlers"
	"github.com/meetscribe/voice-service/internal/config"
	"github.com/meetscribe/voice-service/internal/document"
	"github.com/meetscribe/voice-service/internal/history"
	"github.com/meetscribe/voice-service/internal/hub"
	"github.com/meetscribe/voice-service/internal/registry"
	"github.com/meetscribe/voice-service/internal/runner"
	"github.com/meetscribe/voice-service/internal/scheduler"
	"github.com/meetscribe/voice-service/internal/summary"
	"github.com/meetscribe/voice-service/internal/webhook"
	"github.com/meetscribe/voice-service/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.FilePath,
	); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	zl := logger.Get()
	zl.Info("starting voice-service",
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.Mode),
		zap.Int("workers", cfg.Worker.MaxConcurrent))

	// 创建存储目录
	for _, dir := range []string{
		cfg.Storage.UploadDir,
		cfg.Storage.TranscriptDir,
		cfg.Storage.SummaryDir,
		cfg.Storage.WorkDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			zl.Fatal("failed to create storage dir",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	// 注册表与历史
	reg := registry.New(zl)
	store := history.NewStore(cfg.Storage.HistoryPath(), zl)
	if merged := reg.MergeHistory(store.Load()); merged > 0 {
		zl.Info("history loaded", zap.Int("records", merged))
	}

	// 广播中心
	eventHub := hub.New(cfg.Hub.QueueSize, zl)
	defer eventHub.Close()

	// 识别端与渲染
	normalizer := runner.NewFFmpegNormalizer(cfg.Runner.FFmpegPath, cfg.Storage.WorkDir, zl)
	transcriber := runner.NewFunASRClient(&cfg.Runner, normalizer, zl)
	renderer := document.NewRenderer(cfg.Storage.TranscriptDir, cfg.Storage.SummaryDir, zl)

	// 终态通知
	notifier := webhook.NewNotifier(&cfg.Webhook, zl)

	// 调度器
	sched := scheduler.New(
		&cfg.Worker,
		&cfg.Tracker,
		reg,
		store,
		eventHub,
		transcriber,
		renderer,
		schedNotifier(notifier),
		zl,
	)
	sched.Start()
	defer sched.Stop()

	// 纪要编排
	llm := summary.NewLLMClient(&cfg.Summary, zl)
	summarizer := summary.NewOrchestrator(&cfg.Summary, reg, store, renderer, llm, zl)

	// 初始化 Handler 与路由
	voiceHandler := handlers.NewVoiceHandler(cfg, reg, store, sched, eventHub, summarizer, zl)
	router := api.SetupRouter(cfg, voiceHandler)

	// 启动服务器
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	zl.Info("server listening", zap.String("addr", addr))

	go func() {
		if err := router.Run(addr); err != nil {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server...")
}

// schedNotifier 把可能为 nil 的具体通知器转成接口，避免非 nil 接口包空指针
func schedNotifier(n *webhook.Notifier) scheduler.Notifier {
	if n == nil {
		return nil
	}
	return n
}
