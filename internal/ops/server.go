package ops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailgram/bot/internal/config"
	"mailgram/bot/internal/middleware"
	"mailgram/bot/internal/monitoring"
)

// Server 运维端点服务：健康检查与指标暴露。
// 独立于 SMTP 与 Telegram 的投递路径，仅供部署环境探测使用。
type Server struct {
	engine *gin.Engine
	health healthcheck.Handler
	addr   string
	log    *zap.Logger
}

// NewServer 创建运维服务器。
func NewServer(cfg config.OpsConfig, metrics *monitoring.Metrics, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	health := healthcheck.NewHandler()
	// goroutine 数量失控通常意味着投递 goroutine 泄漏
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(500))

	engine := gin.New()
	engine.Use(middleware.RecoveryHandler(log))
	engine.Use(middleware.RequestLogger(log))

	engine.GET("/health/live", gin.WrapF(health.LiveEndpoint))
	engine.GET("/health/ready", gin.WrapF(health.ReadyEndpoint))
	engine.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))

	return &Server{
		engine: engine,
		health: health,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		log:    log,
	}
}

// AddReadinessCheck 注册就绪检查，例如 Telegram API 可达性。
func (s *Server) AddReadinessCheck(name string, check func() error) {
	s.health.AddReadinessCheck(name, check)
}

// Run 启动 HTTP 服务并在 ctx 取消时优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops server listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown ops server: %w", err)
		}
		return nil
	}
}
