package telegram

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	logx "botcast/pkg/logx"
)

func TestSplitTextShort(t *testing.T) {
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 3) + "tail"
	chunks := splitText(text, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %q", chunks)
	}
	for _, c := range chunks {
		if len([]rune(c)) > 20 {
			t.Fatalf("chunk over limit: %q", c)
		}
	}
	// First chunk should break at a line boundary, not mid-word.
	if !strings.HasSuffix(chunks[0], "line one") {
		t.Fatalf("first chunk not newline-aligned: %q", chunks[0])
	}
}

func TestSplitTextHardBreak(t *testing.T) {
	text := strings.Repeat("x", 25)
	chunks := splitText(text, 10)
	joined := strings.Join(chunks, "")
	if joined != text {
		t.Fatalf("content lost: %q", chunks)
	}
	for _, c := range chunks {
		if len([]rune(c)) > 10 {
			t.Fatalf("chunk over limit: %q", c)
		}
	}
}

func TestIsRecipientGone(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{tele.ErrBlockedByUser, true},
		{tele.ErrUserIsDeactivated, true},
		{tele.ErrChatNotFound, true},
		{&tele.Error{Code: 403, Description: "bot was kicked"}, true},
		{&tele.Error{Code: 400, Description: "bad request"}, false},
		{errors.New("network down"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isRecipientGone(c.err); got != c.want {
			t.Errorf("isRecipientGone(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatalf("empty token accepted")
	}
}
