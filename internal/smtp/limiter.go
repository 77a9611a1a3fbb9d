package smtp

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultMaxConns = 100
	defaultConnRate = 10 // 每秒新建连接数上限
)

// ConnectionLimiter 限制 SMTP 并发连接数与新建连接速率。
// 匿名收信端口暴露在公网上，没有认证这一层时入口限流是唯一的闸门。
type ConnectionLimiter struct {
	mu       sync.Mutex
	maxConns int
	current  int
	rate     *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器。
func NewConnectionLimiter(maxConns int, perSecond rate.Limit) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxConns: maxConns,
		rate:     rate.NewLimiter(perSecond, maxConns),
	}
}

// Acquire 尝试获取连接许可，连接数或速率超限时拒绝。
func (l *ConnectionLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current >= l.maxConns {
		return false
	}
	if !l.rate.Allow() {
		return false
	}

	l.current++
	return true
}

// Release 归还连接许可。
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 返回当前活跃连接数。
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
