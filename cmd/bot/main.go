package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailgram/bot/internal/cloudflare"
	"mailgram/bot/internal/config"
	"mailgram/bot/internal/logger"
	"mailgram/bot/internal/monitoring"
	"mailgram/bot/internal/ops"
	"mailgram/bot/internal/pool"
	"mailgram/bot/internal/registry"
	"mailgram/bot/internal/smtp"
	"mailgram/bot/internal/telegram"
)

// main 启动临时邮箱 Telegram 机器人：
// DNS 路由预配 → SMTP 接收 → 解析 → 通知投递，外加运维端点。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting mailgram bot",
		zap.String("mail_domain", cfg.Mail.Domain),
		zap.String("smtp_addr", cfg.SMTP.BindAddr),
		zap.String("log_level", cfg.Log.Level),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DNS 路由预配：失败即退出，域名不可达时运行毫无意义
	if err := provisionRouting(ctx, cfg, log); err != nil {
		log.Fatal("dns provisioning failed", zap.Error(err))
	}

	// 初始化监控指标
	metrics := monitoring.NewMetrics()

	// 地址注册表（内存态，进程重启后地址全部失效）
	directory := registry.New(cfg.Mail.Domain)

	// Telegram 接入
	bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.PollTimeout, log)
	if err != nil {
		log.Fatal("telegram authorization failed", zap.Error(err))
	}

	notifier := telegram.NewNotifier(bot, metrics, log)
	commands := telegram.NewCommandHandler(directory, notifier, metrics, log)
	supervisor := telegram.NewPollSupervisor(bot, commands.HandleUpdate, metrics, log)

	// 投递协程池：限制并发的通知投递数量
	workers := pool.New(16, 256, log)
	workers.Start(ctx)
	defer workers.Stop()

	// SMTP 接收服务器
	backend := smtp.NewBackend(directory, notifier, cfg.SMTP.MaxMessageBytes, metrics, log)
	backend.SetWorkerPool(workers)
	smtpServer := smtp.NewServer(backend, cfg.SMTP, cfg.Mail.Domain)

	// 运维端点
	opsServer := ops.NewServer(cfg.Ops, metrics, log)
	opsServer.AddReadinessCheck("telegram", func() error {
		probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return bot.Restart(probeCtx)
	})

	group, groupCtx := errgroup.WithContext(ctx)

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.Mail.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			select {
			case <-groupCtx.Done():
				// 关闭阶段 Close 引发的 accept 错误不算故障
				return nil
			default:
				return fmt.Errorf("smtp server: %w", err)
			}
		}
		return nil
	})

	// Telegram 轮询 goroutine
	group.Go(func() error {
		log.Info("starting telegram receive loop",
			zap.Int("poll_timeout", cfg.Telegram.PollTimeout),
		)
		if err := supervisor.Run(groupCtx); err != nil {
			return fmt.Errorf("telegram receive loop: %w", err)
		}
		return nil
	})

	// 运维端点 goroutine
	group.Go(func() error {
		return opsServer.Run(groupCtx)
	})

	// 告警监控 goroutine
	alerts := monitoring.NewAlertManager(log)
	alerts.AddRule(monitoring.HighMemoryUsageRule(512))
	alerts.AddRule(monitoring.GoroutineLeakRule(500))
	alerts.AddRule(monitoring.TelegramUnreachableRule(func() error {
		probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return bot.Restart(probeCtx)
	}))
	group.Go(func() error {
		alerts.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("bot terminated", zap.Error(err))
	}

	log.Info("bot exited cleanly")
}

// provisionRouting 在启动时配置并验证邮件域名的 DNS 路由。
// 传播确认有界轮询，超时视为致命错误。
func provisionRouting(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	client := cloudflare.NewClient(cfg.Cloudflare, log)

	ip, err := client.PublicIP(ctx)
	if err != nil {
		return err
	}
	log.Info("resolved public ip", zap.String("ip", ip))

	if err := client.EnsureRouting(ctx, cfg.Mail.Domain, ip); err != nil {
		return err
	}

	return client.WaitReady(ctx, cfg.Mail.Domain)
}
