package store

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Role identifies the author kind of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentKind discriminates the two shapes of message content.
type ContentKind string

const (
	// ContentKindText is a plain string body.
	ContentKindText ContentKind = "text"
	// ContentKindParts is an ordered sequence of typed parts.
	ContentKindParts ContentKind = "parts"
)

// PartType discriminates the typed content parts.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image"
	PartTypeFile  PartType = "file"
)

// ContentPart is one element of a multi-part message body.
// Exactly the fields matching Type are populated.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageRef string   `json:"image,omitempty"`
	DataRef  string   `json:"data,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
}

// MessageContent is the message body: either a plain string or an ordered
// sequence of typed parts, discriminated by Kind.
type MessageContent struct {
	Kind  ContentKind
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string body.
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentKindText, Text: text}
}

// PartsContent wraps an ordered part sequence.
func PartsContent(parts []ContentPart) MessageContent {
	return MessageContent{Kind: ContentKindParts, Parts: parts}
}

// Flatten returns the textual projection of the content, used when building
// model context from history. Image and file parts contribute nothing.
func (c MessageContent) Flatten() string {
	switch c.Kind {
	case ContentKindParts:
		var sb strings.Builder
		for _, p := range c.Parts {
			if p.Type == PartTypeText {
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	default:
		return c.Text
	}
}

// IsEmpty reports whether the content carries no payload at all.
func (c MessageContent) IsEmpty() bool {
	if c.Kind == ContentKindParts {
		return len(c.Parts) == 0
	}
	return c.Text == ""
}

type contentEnvelope struct {
	Kind  ContentKind   `json:"kind"`
	Text  string        `json:"text,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	kind := c.Kind
	if kind == "" {
		kind = ContentKindText
	}
	return json.Marshal(contentEnvelope{Kind: kind, Text: c.Text, Parts: c.Parts})
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.Wrap(err, "unmarshal message content")
	}
	switch env.Kind {
	case ContentKindText, ContentKindParts:
	case "":
		env.Kind = ContentKindText
	default:
		return errors.Errorf("unknown content kind %q", env.Kind)
	}
	c.Kind = env.Kind
	c.Text = env.Text
	c.Parts = env.Parts
	return nil
}

// Message is one entry of a conversation.
//
// An assistant message starts as a placeholder (IsComplete=false, empty
// content) and is mutated only by the streaming relay until it reaches a
// terminal state; it is immutable thereafter.
type Message struct {
	UID            string
	ConversationID int64
	AuthorID       string
	Role           Role
	Content        MessageContent
	Model          string
	FailureReason  string
	IsComplete     bool
	WriteSeq       int64
	CreatedTs      int64
	ID             int64
}

// Failed reports whether the message reached the terminal failure state.
func (m *Message) Failed() bool {
	return !m.IsComplete && m.FailureReason != ""
}

type CreateMessage struct {
	UID            string
	ConversationID int64
	AuthorID       string
	Role           Role
	Content        MessageContent
	Model          string
	IsComplete     bool
	CreatedTs      int64
}

type FindMessage struct {
	ID             *int64
	ConversationID *int64
	Role           *Role
}

// PatchMessageContent replaces the message content with a strictly newer
// accumulated value. WriteSeq must increase monotonically per message; the
// driver ignores the patch when the stored sequence is already >= WriteSeq.
type PatchMessageContent struct {
	ID       int64
	WriteSeq int64
	Content  MessageContent
}
