package bot

import (
	"context"
	"sync"

	"github.com/pvelab/graphtrader/pkg/errors"
)

// ControlAction is the kind of request carried on the control plane.
type ControlAction string

const (
	ActionLaunch ControlAction = "launch"
	ActionStop   ControlAction = "stop"
)

// ControlMessage asks the manager to change one bot's state.
type ControlMessage struct {
	Action ControlAction `json:"action"`
	BotID  int64         `json:"bot_id"`
}

// ControlPlane carries launch/stop requests between whoever decides bot
// state and the manager that owns the running sessions.
type ControlPlane interface {
	Publish(ctx context.Context, msg ControlMessage) error
	Subscribe(ctx context.Context) (<-chan ControlMessage, error)
}

// ChannelControlPlane is an in-process control plane. Each subscriber gets
// its own buffered channel; a subscriber that falls behind drops messages
// rather than blocking publishers.
type ChannelControlPlane struct {
	mu     sync.Mutex
	subs   []chan ControlMessage
	closed bool
}

var _ ControlPlane = (*ChannelControlPlane)(nil)

func NewChannelControlPlane() *ChannelControlPlane {
	return &ChannelControlPlane{}
}

func (p *ChannelControlPlane) Publish(_ context.Context, msg ControlMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New(errors.ErrCodeControlPlane, "control plane is closed")
	}

	for _, sub := range p.subs {
		select {
		case sub <- msg:
		default:
		}
	}

	return nil
}

func (p *ChannelControlPlane) Subscribe(ctx context.Context) (<-chan ControlMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New(errors.ErrCodeControlPlane, "control plane is closed")
	}

	ch := make(chan ControlMessage, 16)
	p.subs = append(p.subs, ch)

	go func() {
		<-ctx.Done()

		p.mu.Lock()
		defer p.mu.Unlock()

		for i, sub := range p.subs {
			if sub == ch {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				close(ch)

				break
			}
		}
	}()

	return ch, nil
}

// Close drops all subscribers and rejects further publishes.
func (p *ChannelControlPlane) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for _, sub := range p.subs {
		close(sub)
	}

	p.subs = nil
}
