package telegram

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestQuoteExcerpt(t *testing.T) {
	if got := quoteExcerpt(nil); got != "" {
		t.Errorf("nil message should yield no quote, got %q", got)
	}

	if got := quoteExcerpt(&tele.Message{Text: "short question"}); got != "short question" {
		t.Errorf("got %q", got)
	}

	long := strings.Repeat("a", 100)
	got := quoteExcerpt(&tele.Message{Text: long})
	if len([]rune(got)) != quoteExcerptLimit+2 || !strings.HasSuffix(got, "..") {
		t.Errorf("long quote not capped: %q", got)
	}

	if got := quoteExcerpt(&tele.Message{Caption: "a photo caption"}); got != "a photo caption" {
		t.Errorf("caption fallback: got %q", got)
	}

	if got := quoteExcerpt(&tele.Message{}); got != "[non-text message]" {
		t.Errorf("non-text placeholder: got %q", got)
	}
}
