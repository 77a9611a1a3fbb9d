package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部提交的任务", func(t *testing.T) {
		p := New(4, 16, zap.NewNop())
		p.Start(context.Background())

		var done int64
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			ok := p.TrySubmit(func() {
				atomic.AddInt64(&done, 1)
				wg.Done()
			})
			assert.True(t, ok)
		}

		wg.Wait()
		p.Stop()
		assert.Equal(t, int64(10), atomic.LoadInt64(&done))
	})

	t.Run("队列已满时TrySubmit返回false", func(t *testing.T) {
		// 不启动 worker，让队列塞满
		p := New(1, 2, zap.NewNop())

		assert.True(t, p.TrySubmit(func() {}))
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))
	})

	t.Run("任务panic不影响后续任务", func(t *testing.T) {
		p := New(1, 4, zap.NewNop())
		p.Start(context.Background())

		recovered := make(chan struct{})
		assert.True(t, p.TrySubmit(func() { panic("boom") }))
		assert.True(t, p.TrySubmit(func() { close(recovered) }))

		select {
		case <-recovered:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not survive panicking task")
		}
		p.Stop()
	})
}
