package service

import (
	"context"
	"sync"

	"doc-qa/internal/metrics"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrDispatcherClosed = errors.New("后台任务已停止接收")

// Runner 执行一次任务运行
type Runner interface {
	Run(ctx context.Context, id uint)
}

// Dispatcher 在进程级 context 上异步运行任务，退出时等待在途任务结束
type Dispatcher struct {
	runner  Runner
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(runner Runner, m *metrics.Metrics, log logrus.FieldLogger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:  runner,
		metrics: m,
		log:     log.WithField("component", "dispatcher"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit 提交一次运行，立即返回
func (d *Dispatcher) Submit(id uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.WithField("task_id", id).Warn("服务正在退出，任务未提交")
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	d.metrics.InFlightRuns.Inc()
	go func() {
		defer d.wg.Done()
		defer d.metrics.InFlightRuns.Dec()
		d.runner.Run(d.ctx, id)
	}()
	return nil
}

// Shutdown 停止接收新任务并等待在途任务；ctx 到期后取消它们
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
