package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/panelapp-backend/internal/realtime"
)

// localBus delivers in-process. Used when REDIS_ADDR is unset and in tests.
type localBus struct {
	mu        sync.RWMutex
	listeners []func(realtime.Message)
}

func NewLocalBus() Bus {
	return &localBus{}
}

func (b *localBus) Publish(_ context.Context, msg realtime.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.listeners {
		fn(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(_ context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, onMsg)
	b.mu.Unlock()
	return nil
}

func (b *localBus) Close() error { return nil }
