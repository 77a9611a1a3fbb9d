package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// AlertRule 告警规则：条件满足且冷却期已过时产生一条告警日志。
type AlertRule struct {
	ID        string
	Condition func() bool
	Level     AlertLevel
	Component string
	Message   string
	Cooldown  time.Duration

	lastTriggered time.Time
}

// AlertManager 周期性评估告警规则并写入日志。
// 本系统没有独立的告警通道，运维值守依赖日志采集，
// 规则触发以结构化日志形式输出。
type AlertManager struct {
	mu    sync.Mutex
	rules []*AlertRule
	log   *zap.Logger
}

// NewAlertManager 创建告警管理器。
func NewAlertManager(log *zap.Logger) *AlertManager {
	return &AlertManager{log: log}
}

// AddRule 添加告警规则。
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, &rule)
}

// CheckRules 评估一轮全部规则。
// 整个评估过程持锁，lastTriggered 的读写都在锁内，
// 并发调用也不会在冷却期内重复触发。
func (am *AlertManager) CheckRules() {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	for _, rule := range am.rules {
		if now.Sub(rule.lastTriggered) < rule.Cooldown {
			continue
		}
		if !rule.Condition() {
			continue
		}
		rule.lastTriggered = now

		fields := []zap.Field{
			zap.String("alert_id", rule.ID),
			zap.String("component", rule.Component),
			zap.String("message", rule.Message),
		}
		switch rule.Level {
		case AlertLevelCritical:
			am.log.Error("critical alert", fields...)
		default:
			am.log.Warn("warning alert", fields...)
		}
	}
}

// StartMonitoring 按固定间隔评估规则，ctx 取消后返回。
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// HighMemoryUsageRule 高内存占用告警。
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID: "high_memory_usage",
		Condition: func() bool {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Alloc)/1024/1024 > thresholdMB
		},
		Level:     AlertLevelWarning,
		Component: "memory",
		Message:   fmt.Sprintf("memory usage exceeds %.0f MB", thresholdMB),
		Cooldown:  5 * time.Minute,
	}
}

// GoroutineLeakRule goroutine 数量告警，投递 goroutine 泄漏的早期信号。
func GoroutineLeakRule(max int) AlertRule {
	return AlertRule{
		ID: "goroutine_leak",
		Condition: func() bool {
			return runtime.NumGoroutine() > max
		},
		Level:     AlertLevelCritical,
		Component: "runtime",
		Message:   fmt.Sprintf("goroutine count exceeds %d", max),
		Cooldown:  time.Minute,
	}
}

// TelegramUnreachableRule Telegram API 可达性告警，probe 失败即触发。
func TelegramUnreachableRule(probe func() error) AlertRule {
	return AlertRule{
		ID: "telegram_unreachable",
		Condition: func() bool {
			return probe() != nil
		},
		Level:     AlertLevelCritical,
		Component: "telegram",
		Message:   "telegram api is unreachable",
		Cooldown:  time.Minute,
	}
}
