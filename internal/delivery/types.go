package delivery

import (
	"errors"
	"time"

	kit "botcast/internal/transport"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery pipeline stopped")
)

// Config controls the async delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Item is one unit of delivery work: a message for a single chat. Items are
// executed at-least-once; a re-executed item only re-sends and re-audits.
type Item struct {
	ChatID int64
	Text   string
	Opt    *kit.SendOptions
}

// previewLen bounds the text preview recorded on audit events.
const previewLen = 100

func preview(s string) string {
	rs := []rune(s)
	if len(rs) <= previewLen {
		return s
	}
	return string(rs[:previewLen])
}
