package transport

import (
	"context"
	"errors"
)

// ErrRecipientGone is the distinguished "recipient unreachable" fault: the chat
// can no longer receive messages (user blocked the bot, account deactivated,
// bot kicked from the chat). It is terminal — callers must not retry it.
var ErrRecipientGone = errors.New("recipient unreachable")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound chat message, normalized away from the wire protocol.
type Message struct {
	ID        int
	ChatID    int64
	FromID    int64
	Username  string
	FirstName string
	Text      string
	IsGroup   bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the transport collaborator: a message source plus a tri-state
// send (nil | ErrRecipientGone | other error).
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
