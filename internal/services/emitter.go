package services

import (
	"context"

	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/realtime"
	"github.com/yungbote/panelapp-backend/internal/realtime/bus"
)

type Emitter interface {
	Emit(ctx context.Context, msg realtime.Message)
}

type HubEmitter struct{ Hub *realtime.Hub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.Message) {
	if e == nil || e.Hub == nil {
		return
	}
	e.Hub.Broadcast(msg)
}

// BusEmitter publishes through a bus so that API servers other than the
// emitting process see the event.
type BusEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *BusEmitter) Emit(ctx context.Context, msg realtime.Message) {
	if e == nil || e.Bus == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
		e.Log.Warn("Event publish failed", "event", msg.Event, "channel", msg.Channel, "error", err)
	}
}
