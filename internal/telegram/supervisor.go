package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mailgram/bot/internal/monitoring"
)

const (
	// maxConsecutiveErrors 触发接收循环重启的连续错误阈值。
	maxConsecutiveErrors = 5
	// errorPause 未达阈值时每次错误后的等待。
	errorPause = 5 * time.Second
	// restartPause 重启前的冷却时间。
	restartPause = 10 * time.Second
)

// UpdateSource 抽象长轮询取数与重启能力，由 Bot 实现。
type UpdateSource interface {
	FetchUpdates(ctx context.Context) ([]tgbotapi.Update, error)
	Restart(ctx context.Context) error
}

// PollSupervisor 驱动接收循环并跟踪传输层错误的连续次数。
//
// 状态机：连续错误数 < 5 时每次错误只做短暂停顿；达到 5 时执行
// 停止/冷却/重启并清零计数；重启失败是进程内唯一不可恢复的运行期错误，
// Run 返回该错误由 main 终止进程。这是系统仅有的自愈机制。
type PollSupervisor struct {
	source  UpdateSource
	handle  func(ctx context.Context, update tgbotapi.Update)
	metrics *monitoring.Metrics
	log     *zap.Logger

	// 可在测试中缩短的停顿时长
	errorPause   time.Duration
	restartPause time.Duration
}

// NewPollSupervisor 创建接收循环监督器。handle 对每条更新被并发调用，
// 单个订阅者的慢命令不会阻塞其他订阅者。
func NewPollSupervisor(source UpdateSource, handle func(ctx context.Context, update tgbotapi.Update), metrics *monitoring.Metrics, log *zap.Logger) *PollSupervisor {
	return &PollSupervisor{
		source:       source,
		handle:       handle,
		metrics:      metrics,
		log:          log,
		errorPause:   errorPause,
		restartPause: restartPause,
	}
}

// Run 阻塞运行接收循环直到 ctx 取消（返回 nil）或重启失败（返回错误）。
func (s *PollSupervisor) Run(ctx context.Context) error {
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := s.source.FetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			consecutive++
			s.metrics.PollErrors.Inc()
			s.log.Warn("receive loop error",
				zap.Int("consecutive", consecutive),
				zap.Error(err),
			)

			if consecutive >= maxConsecutiveErrors {
				s.log.Warn("error threshold reached, restarting receive loop")
				if !s.pause(ctx, s.restartPause) {
					return nil
				}
				if err := s.source.Restart(ctx); err != nil {
					// 不可恢复：上抛给 main 终止进程
					return fmt.Errorf("restart receive loop: %w", err)
				}
				s.metrics.PollRestarts.Inc()
				consecutive = 0
				continue
			}

			if !s.pause(ctx, s.errorPause) {
				return nil
			}
			continue
		}

		consecutive = 0
		for _, update := range updates {
			go s.handle(ctx, update)
		}
	}
}

// pause 等待给定时长，ctx 取消时返回 false。
func (s *PollSupervisor) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
