package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

// FallbackTitle is used whenever title generation fails or produces nothing.
const FallbackTitle = "New Chat"

const titleSystemPrompt = "Generate a four word title that describes the message the user will provide. NO LONGER THAN FOUR WORDS."

const maxTitleWords = 4

// truncate long first messages before sending them to the title model;
// the opening words carry the topic.
const titleInputLimit = 500

// Titler produces a short conversation title from the first user message with
// a single bounded call to a small/fast model.
type Titler struct {
	llm     llm.Service
	model   string
	timeout time.Duration
}

// NewTitler creates a Titler bound to the given provider client and model.
func NewTitler(service llm.Service, model string, timeout time.Duration) *Titler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Titler{llm: service, model: model, timeout: timeout}
}

// Title returns a title of at most four words for the conversation opened by
// firstMessage, and the source of that title. It never fails: any provider
// error or timeout degrades to the fixed fallback title.
func (t *Titler) Title(ctx context.Context, firstMessage string) (string, store.TitleSource) {
	if t.llm == nil || strings.TrimSpace(firstMessage) == "" {
		return FallbackTitle, store.TitleSourceDefault
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	input := truncateInput(firstMessage)

	raw, err := t.llm.Chat(ctx, t.model, []llm.Message{
		llm.SystemPrompt(titleSystemPrompt),
		llm.UserMessage(input),
	})
	if err != nil {
		slog.Warn("Title generation failed, using fallback", "error", err)
		return FallbackTitle, store.TitleSourceDefault
	}

	title := clampTitle(raw)
	if title == "" {
		return FallbackTitle, store.TitleSourceDefault
	}
	return title, store.TitleSourceAuto
}

// truncateInput cuts long first messages on a rune boundary so the provider
// never receives a split multi-byte sequence.
func truncateInput(input string) string {
	if len(input) <= titleInputLimit {
		return input
	}
	cut := titleInputLimit
	for cut > 0 && !utf8.RuneStart(input[cut]) {
		cut--
	}
	return input[:cut]
}

// clampTitle normalizes model output into a ≤4-word single-line title.
// Models occasionally wrap the title in quotes or append trailing punctuation
// despite the prompt.
func clampTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimRight(title, ".!")

	words := strings.Fields(title)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " ")
}
