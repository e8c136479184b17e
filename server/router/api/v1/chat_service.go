package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nvoss/typewriter/llm"
	"github.com/nvoss/typewriter/store"
)

type createConversationRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type conversationResponse struct {
	ID          int64  `json:"id"`
	UID         string `json:"uid"`
	Title       string `json:"title"`
	TitleSource string `json:"titleSource"`
	CreatedTs   int64  `json:"createdTs"`
	UpdatedTs   int64  `json:"updatedTs"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sendMessageRequest struct {
	History []historyEntry `json:"history"`
	Model   string         `json:"model"`
}

type messageResponse struct {
	ID             int64                `json:"id"`
	UID            string               `json:"uid"`
	ConversationID int64                `json:"conversationId"`
	AuthorID       string               `json:"authorId"`
	Role           string               `json:"role"`
	Content        store.MessageContent `json:"content"`
	Model          string               `json:"model,omitempty"`
	IsComplete     bool                 `json:"isComplete"`
	FailureReason  string               `json:"failureReason,omitempty"`
	CreatedTs      int64                `json:"createdTs"`
}

// CreateConversation opens a conversation from its first message. The
// response returns as soon as the generation job is scheduled; readers watch
// the assistant message fill in by polling ListMessages.
func (s *APIV1Service) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	conversation, err := s.Conversations.Create(c.Request().Context(), callerID(c), store.TextContent(req.Message), req.Model)
	if err != nil {
		return errToHTTP(err)
	}
	return c.JSON(http.StatusCreated, convertConversation(conversation))
}

func (s *APIV1Service) ListConversations(c echo.Context) error {
	conversations, err := s.Conversations.List(c.Request().Context(), callerID(c))
	if err != nil {
		return errToHTTP(err)
	}

	response := make([]conversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		response = append(response, convertConversation(conversation))
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIV1Service) SendMessage(c echo.Context) error {
	conversationID, err := pathID(c)
	if err != nil {
		return err
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}
	if len(req.History) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "history is required")
	}

	history := make([]llm.Message, 0, len(req.History))
	for _, entry := range req.History {
		history = append(history, llm.Message{Role: entry.Role, Content: entry.Content})
	}

	if err := s.Conversations.SendMessage(c.Request().Context(), callerID(c), conversationID, history, req.Model); err != nil {
		return errToHTTP(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *APIV1Service) ListMessages(c echo.Context) error {
	conversationID, err := pathID(c)
	if err != nil {
		return err
	}

	messages, err := s.Conversations.Messages(c.Request().Context(), callerID(c), conversationID)
	if err != nil {
		return errToHTTP(err)
	}

	response := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, messageResponse{
			ID:             m.ID,
			UID:            m.UID,
			ConversationID: m.ConversationID,
			AuthorID:       m.AuthorID,
			Role:           string(m.Role),
			Content:        m.Content,
			Model:          m.Model,
			IsComplete:     m.IsComplete,
			FailureReason:  m.FailureReason,
			CreatedTs:      m.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIV1Service) DeleteConversation(c echo.Context) error {
	conversationID, err := pathID(c)
	if err != nil {
		return err
	}

	if err := s.Conversations.Delete(c.Request().Context(), callerID(c), conversationID); err != nil {
		return errToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	return id, nil
}

func convertConversation(conversation *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:          conversation.ID,
		UID:         conversation.UID,
		Title:       conversation.Title,
		TitleSource: string(conversation.TitleSource),
		CreatedTs:   conversation.CreatedTs,
		UpdatedTs:   conversation.UpdatedTs,
	}
}
