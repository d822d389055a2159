package realtime

import (
	"testing"
	"time"

	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for realtime message")
	}
	return Message{}
}

func TestHubOrderingAndReconnect(t *testing.T) {
	hub := NewHub(logger.Nop())
	channel := ReleaseChannel(7)

	a := hub.NewClient()
	hub.AddChannel(a, channel)
	hub.Broadcast(Message{Channel: channel, Event: EventDeploymentStarted})
	hub.Broadcast(Message{Channel: channel, Event: EventDeploymentFinished})

	if got := recvMessage(t, a.Outbound, time.Second); got.Event != EventDeploymentStarted {
		t.Fatalf("first event: want=%s got=%s", EventDeploymentStarted, got.Event)
	}
	if got := recvMessage(t, a.Outbound, time.Second); got.Event != EventDeploymentFinished {
		t.Fatalf("second event: want=%s got=%s", EventDeploymentFinished, got.Event)
	}

	hub.CloseClient(a)
	if _, ok := <-a.Outbound; ok {
		t.Fatalf("outbound should be closed after CloseClient")
	}

	b := hub.NewClient()
	hub.AddChannel(b, channel)
	hub.Broadcast(Message{Channel: channel, Event: EventJobDone})
	if got := recvMessage(t, b.Outbound, time.Second); got.Event != EventJobDone {
		t.Fatalf("reconnect event: want=%s got=%s", EventJobDone, got.Event)
	}
}

func TestHubChannelIsolation(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient()
	hub.AddChannel(c, ReleaseChannel(1))

	hub.Broadcast(Message{Channel: ReleaseChannel(2), Event: EventDeploymentStarted})
	hub.Broadcast(Message{Channel: "", Event: EventDeploymentStarted})

	select {
	case msg := <-c.Outbound:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient()
	hub.AddChannel(c, ChannelJobs)
	for i := 0; i < cap(c.Outbound)+5; i++ {
		hub.Broadcast(Message{Channel: ChannelJobs, Event: EventJobProgress, Data: i})
	}
	if len(c.Outbound) != cap(c.Outbound) {
		t.Fatalf("expected full buffer, got %d", len(c.Outbound))
	}
}
