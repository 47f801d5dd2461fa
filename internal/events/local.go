package events

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrBusFull 本地队列已满，事件被丢弃
	ErrBusFull   = errors.New("event queue full")
	ErrBusClosed = errors.New("event bus closed")
)

// LocalBus 进程内异步分发：有界队列 + 单个 worker
type LocalBus struct {
	queue    chan DepositAccepted
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
	done     chan struct{}
	logger   *logrus.Logger
}

// NewLocalBus 创建进程内事件总线，size 为队列容量
func NewLocalBus(size int, logger *logrus.Logger) *LocalBus {
	if size <= 0 {
		size = 256
	}
	b := &LocalBus{
		queue:  make(chan DepositAccepted, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go b.run()
	return b
}

func (b *LocalBus) run() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.RLock()
		hs := append([]Handler(nil), b.handlers...)
		b.mu.RUnlock()
		for _, h := range hs {
			b.dispatch(h, ev)
		}
	}
}

func (b *LocalBus) dispatch(h Handler, ev DepositAccepted) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("panic", r).WithField("deposit_uuid", ev.DepositUUID).Error("event handler panic")
		}
	}()
	h(context.Background(), ev)
}

func (b *LocalBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	return nil
}

func (b *LocalBus) PublishDepositAccepted(_ context.Context, ev DepositAccepted) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- ev:
		return nil
	default:
		b.logger.WithField("deposit_uuid", ev.DepositUUID).Warn("event queue full, dropping")
		return ErrBusFull
	}
}

// Close 停止接收并等待队列中的事件处理完毕
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
	return nil
}
