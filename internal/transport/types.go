// Package transport holds the chat-delivery contract used for operator-facing
// messages (ops log forwarding). Subscriber alerts never travel through here;
// they go through internal/sender.
package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers plain text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
