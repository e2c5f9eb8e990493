package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/gregdel/pushover"
)

// pushoverSender 便于替换发送实现
type pushoverSender interface {
	SendMessage(message *pushover.Message, recipient *pushover.Recipient) (*pushover.Response, error)
}

// PushoverChannel Pushover 推送通道
type PushoverChannel struct {
	app       pushoverSender
	recipient *pushover.Recipient
}

// NewPushoverChannel 创建 Pushover 通道
func NewPushoverChannel(appToken, userKey string) *PushoverChannel {
	return &PushoverChannel{
		app:       pushover.New(appToken),
		recipient: pushover.NewRecipient(userKey),
	}
}

// Name 实现 Channel
func (c *PushoverChannel) Name() string {
	return "pushover"
}

// Send 实现 Channel
func (c *PushoverChannel) Send(ctx context.Context, n *Notification) error {
	priority := pushover.PriorityNormal
	if n.Severity == "critical" {
		priority = pushover.PriorityHigh
	}

	message := &pushover.Message{
		Title:     n.Title,
		Message:   n.Content,
		Priority:  priority,
		Timestamp: n.CreatedAt.Unix(),
		Retry:     60 * time.Second,
		Expire:    time.Hour,
		Sound:     pushover.SoundGamelan,
	}

	// pushover 客户端不接受 ctx, 超时由调用方放弃等待
	errCh := make(chan error, 1)
	go func() {
		_, err := c.app.SendMessage(message, c.recipient)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("Pushover发送失败: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
