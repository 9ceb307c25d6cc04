package server

import (
	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/persistence"
)

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	Query          string `json:"query" binding:"required"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

func (r ChatRequest) toExpert() experts.Request {
	return experts.Request{Query: r.Query, ConversationID: r.ConversationID, UserID: r.UserID}
}

// ConversationResponse carries a conversation's stored messages.
type ConversationResponse struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []framework.Message `json:"messages"`
}

// SwitchRequest selects the current expert.
type SwitchRequest struct {
	ExpertType string `json:"expert_type" binding:"required"`
}

// DocumentsRequest uploads documents for retrieval.
type DocumentsRequest struct {
	Documents []persistence.Document `json:"documents" binding:"required,min=1"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
