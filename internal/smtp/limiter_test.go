package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发数达到上限后拒绝", func(t *testing.T) {
		limiter := NewConnectionLimiter(2, rate.Inf)

		assert.True(t, limiter.Acquire())
		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire())
		assert.Equal(t, 2, limiter.Current())
	})

	t.Run("释放后可以再次获取", func(t *testing.T) {
		limiter := NewConnectionLimiter(1, rate.Inf)

		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire())

		limiter.Release()
		assert.True(t, limiter.Acquire())
	})

	t.Run("速率超限时拒绝", func(t *testing.T) {
		// 突发额度与并发上限一致，耗尽后按速率补充
		limiter := NewConnectionLimiter(100, 1)

		granted := 0
		for i := 0; i < 200; i++ {
			if limiter.Acquire() {
				granted++
				limiter.Release()
			}
		}
		assert.LessOrEqual(t, granted, 101)
		assert.Positive(t, granted)
	})

	t.Run("空闲时Release不会变成负数", func(t *testing.T) {
		limiter := NewConnectionLimiter(1, rate.Inf)
		limiter.Release()
		assert.Equal(t, 0, limiter.Current())
	})
}
