package bus

import (
	"context"

	"github.com/yungbote/panelapp-backend/internal/realtime"
)

// Bus carries realtime messages between processes. The API server forwards
// everything it receives into its Hub; workers only publish.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
