package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task 轮询任务（每个周期调用一次；内部自行处理失败降级）
type Task func(ctx context.Context)

// Poller 可取消的固定间隔轮询任务
// 启动后立即执行一次，然后按间隔重复；由持有方生命周期管理，
// Stop 或上下文取消后保证不再执行。不存在进程级全局定时器。
type Poller struct {
	name     string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New 创建轮询器
func New(name string, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		logger:   logger,
	}
}

// Start 启动轮询（立即执行一次，随后按间隔执行）
// 重复启动是编程错误，返回 error
func (p *Poller) Start(ctx context.Context, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("poller %s already started", p.name)
	}
	if p.interval <= 0 {
		return fmt.Errorf("poller %s: interval must be positive, got %s", p.name, p.interval)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.started = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(loopCtx, task)

	p.logger.Debug("Poller started",
		zap.String("poller", p.name),
		zap.Duration("interval", p.interval),
	)
	return nil
}

// run 轮询循环
func (p *Poller) run(ctx context.Context, task Task) {
	defer close(p.done)

	task(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// Stop 停止轮询并等待循环退出（幂等）
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.logger.Debug("Poller stopped", zap.String("poller", p.name))
}
