package notify

import (
	"context"
	"time"

	"github.com/Ning0612/addonsync/internal/channel"
	"github.com/Ning0612/addonsync/internal/logger"
)

// Sender is the part of the message channel used to push status
type Sender interface {
	Connected() bool
	Send(ctx context.Context, msg channel.Message) error
}

// ChannelPublisher forwards backup status events over the message channel.
// Events are dropped while disconnected.
type ChannelPublisher struct {
	sender  Sender
	timeout time.Duration
}

// NewChannelPublisher creates a publisher over sender
func NewChannelPublisher(sender Sender) *ChannelPublisher {
	return &ChannelPublisher{sender: sender, timeout: 5 * time.Second}
}

func (p *ChannelPublisher) Notify(e Event) {
	if e.Kind != KindBackupStatus || !p.sender.Connected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	msg := channel.Message{Type: channel.TypeBackupStatus, Status: string(e.Status), Desc: e.Desc}
	if err := p.sender.Send(ctx, msg); err != nil {
		logger.Get().Debug("failed to publish backup status", "status", e.Status, "error", err)
	}
}
