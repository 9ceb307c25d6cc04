package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/persistence"
	"github.com/lexcodex/researchbot/research"
)

func (s *APIServer) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "query is required"})
		return
	}
	if msg, bad := validateChat(req); bad {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	resp, err := s.Chat.Process(ctx, req.toExpert())
	if err != nil {
		_ = c.Error(err)
		if msg, bad := badChatError(err); bad {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: research.UserMessage(err)})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleChatStream answers over server-sent events: one "message" event per
// fragment, then "done" with the complete response or "error".
func (s *APIServer) handleChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "query is required"})
		return
	}
	if msg, bad := validateChat(req); bad {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	resp, err := s.Chat.Stream(ctx, req.toExpert(), func(chunk string) {
		if chunk == "" {
			return
		}
		c.SSEvent("message", gin.H{"content": chunk})
		c.Writer.Flush()
	})
	if err != nil {
		_ = c.Error(err)
		s.logger().Warn("stream failed", zap.Error(err))
		c.SSEvent("error", ErrorResponse{Error: research.UserMessage(err)})
		c.Writer.Flush()
		return
	}
	c.SSEvent("done", resp)
	c.Writer.Flush()
}

// validateChat rejects requests that can never succeed before any work or
// streaming starts.
func validateChat(req ChatRequest) (string, bool) {
	if strings.TrimSpace(req.Query) == "" {
		return "query is required", true
	}
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		if err := persistence.ValidateConversationID(id); err != nil {
			return "invalid conversation id", true
		}
	}
	return "", false
}

func badChatError(err error) (string, bool) {
	switch {
	case errors.Is(err, persistence.ErrInvalidConversationID):
		return "invalid conversation id", true
	case errors.Is(err, experts.ErrEmptyQuery):
		return "query is required", true
	}
	return "", false
}

func (s *APIServer) handleListConversations(c *gin.Context) {
	ids, err := s.Chat.Conversations(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": ids})
}

func (s *APIServer) handleGetConversation(c *gin.Context) {
	id := c.Param("id")
	messages, err := s.Chat.History(c.Request.Context(), id)
	if err != nil {
		s.historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConversationResponse{ConversationID: id, Messages: messages})
}

func (s *APIServer) handleClearConversation(c *gin.Context) {
	if err := s.Chat.ClearHistory(c.Request.Context(), c.Param("id")); err != nil {
		s.historyError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *APIServer) historyError(c *gin.Context, err error) {
	_ = c.Error(err)
	if errors.Is(err, persistence.ErrInvalidConversationID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid conversation id"})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not access conversation"})
}

func (s *APIServer) handleCurrentExpert(c *gin.Context) {
	c.JSON(http.StatusOK, s.Chat.Current())
}

func (s *APIServer) handleAvailableExperts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"experts": s.Chat.Available()})
}

func (s *APIServer) handleSwitchExpert(c *gin.Context) {
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "expert_type is required"})
		return
	}
	t, err := experts.ParseType(req.ExpertType)
	if err == nil {
		err = s.Chat.Switch(t)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Chat.Current())
}

func (s *APIServer) handleExpertInfo(c *gin.Context) {
	t, err := experts.ParseType(c.Param("type"))
	var info experts.Info
	if err == nil {
		info, err = s.Chat.Info(t)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *APIServer) handleAddDocuments(c *gin.Context) {
	if s.Documents == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "document store not configured"})
		return
	}
	var req DocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "documents are required"})
		return
	}
	for _, doc := range req.Documents {
		if strings.TrimSpace(doc.Content) == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "document content is required"})
			return
		}
	}
	ids := make([]string, 0, len(req.Documents))
	for _, doc := range req.Documents {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if err := s.Documents.Upsert(c.Request.Context(), doc); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not store document"})
			return
		}
		ids = append(ids, doc.ID)
	}
	c.JSON(http.StatusCreated, gin.H{"ids": ids, "total": s.Documents.Count()})
}
