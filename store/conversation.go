package store

// TitleSource indicates how the conversation title was created.
// - "default": fixed fallback title (summarization unavailable or failed)
// - "auto": generated by the title model from the first user message
type TitleSource string

const (
	TitleSourceDefault TitleSource = "default"
	TitleSourceAuto    TitleSource = "auto"
)

// Conversation is a titled, owned collection of ordered messages.
type Conversation struct {
	UID         string
	OwnerID     string
	Title       string
	TitleSource TitleSource
	CreatedTs   int64
	UpdatedTs   int64
	ID          int64
}

type FindConversation struct {
	ID      *int64
	UID     *string
	OwnerID *string
}

type UpdateConversation struct {
	Title       *string
	TitleSource *TitleSource
	UpdatedTs   *int64
	ID          int64
}

type DeleteConversation struct {
	ID int64
}
