package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nvoss/typewriter/chat"
	"github.com/nvoss/typewriter/internal/profile"
)

// APIV1Service registers the v1 JSON API.
type APIV1Service struct {
	Secret        string
	Profile       *profile.Profile
	Conversations *chat.Conversations
}

func NewAPIV1Service(secret string, profile *profile.Profile, conversations *chat.Conversations) *APIV1Service {
	return &APIV1Service{
		Secret:        secret,
		Profile:       profile,
		Conversations: conversations,
	}
}

// RegisterRoutes mounts the API under /api/v1 behind the auth middleware.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	group := e.Group("/api/v1", JWTMiddleware(s.Secret))

	group.POST("/conversations", s.CreateConversation)
	group.GET("/conversations", s.ListConversations)
	group.DELETE("/conversations/:id", s.DeleteConversation)
	group.POST("/conversations/:id/messages", s.SendMessage)
	group.GET("/conversations/:id/messages", s.ListMessages)
}

// errToHTTP maps the chat error taxonomy onto status codes.
func errToHTTP(err error) error {
	switch {
	case chat.IsUnauthenticated(err):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case chat.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
