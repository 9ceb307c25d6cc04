package experts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/framework"
)

// ChatEngine owns the registered experts and the one currently answering.
// It is safe for concurrent use; switching affects requests that start
// after the switch.
type ChatEngine struct {
	mu      sync.RWMutex
	experts map[Type]Expert
	current Type
	memory  framework.ConversationMemory
	logger  *zap.Logger
}

// NewChatEngine registers experts and selects initial as the current one.
func NewChatEngine(memory framework.ConversationMemory, initial Type, logger *zap.Logger, experts ...Expert) (*ChatEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &ChatEngine{
		experts: make(map[Type]Expert, len(experts)),
		memory:  memory,
		logger:  logger,
	}
	for _, ex := range experts {
		t := ex.Info().Type
		if _, dup := e.experts[t]; dup {
			return nil, fmt.Errorf("expert %s registered twice", t)
		}
		e.experts[t] = ex
	}
	if _, ok := e.experts[initial]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExpert, initial)
	}
	e.current = initial
	logger.Info("chat engine ready", zap.String("expert", string(initial)), zap.Int("experts", len(e.experts)))
	return e, nil
}

// Switch makes t the current expert. An unknown type leaves the current
// expert unchanged.
func (e *ChatEngine) Switch(t Type) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.experts[t]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownExpert, t)
	}
	if e.current != t {
		e.logger.Info("switching expert", zap.String("from", string(e.current)), zap.String("to", string(t)))
	}
	e.current = t
	return nil
}

// Current describes the active expert.
func (e *ChatEngine) Current() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.experts[e.current].Info()
}

// Available lists registered experts ordered by type.
func (e *ChatEngine) Available() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	infos := make([]Info, 0, len(e.experts))
	for _, ex := range e.experts {
		infos = append(infos, ex.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// Info describes the expert registered for t.
func (e *ChatEngine) Info(t Type) (Info, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ex, ok := e.experts[t]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownExpert, t)
	}
	return ex.Info(), nil
}

// Process answers req with the current expert. A missing conversation id
// is generated.
func (e *ChatEngine) Process(ctx context.Context, req Request) (*Response, error) {
	ex, req := e.prepare(req)
	log := e.logger.With(zap.String("conversation_id", req.ConversationID), zap.String("expert", string(ex.Info().Type)))
	log.Info("processing message")
	resp, err := ex.Process(ctx, req)
	if err != nil {
		log.Error("processing message failed", zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// Stream answers req with the current expert, sending fragments to sink.
// Experts without streaming support deliver their whole answer as a single
// fragment.
func (e *ChatEngine) Stream(ctx context.Context, req Request, sink func(string)) (*Response, error) {
	if sink == nil {
		sink = func(string) {}
	}
	ex, req := e.prepare(req)
	log := e.logger.With(zap.String("conversation_id", req.ConversationID), zap.String("expert", string(ex.Info().Type)))
	log.Info("streaming message")

	var (
		resp *Response
		err  error
	)
	if s, ok := ex.(Streamer); ok {
		resp, err = s.Stream(ctx, req, sink)
	} else {
		resp, err = ex.Process(ctx, req)
		if err == nil {
			sink(resp.Response)
		}
	}
	if err != nil {
		log.Error("streaming message failed", zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (e *ChatEngine) prepare(req Request) (Expert, Request) {
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.experts[e.current], req
}

// History returns the stored messages of a conversation.
func (e *ChatEngine) History(ctx context.Context, conversationID string) ([]framework.Message, error) {
	return e.memory.History(ctx, conversationID)
}

// ClearHistory forgets a conversation.
func (e *ChatEngine) ClearHistory(ctx context.Context, conversationID string) error {
	e.logger.Info("clearing conversation", zap.String("conversation_id", conversationID))
	return e.memory.Clear(ctx, conversationID)
}

// Conversations lists known conversation ids.
func (e *ChatEngine) Conversations(ctx context.Context) ([]string, error) {
	return e.memory.Conversations(ctx)
}

// Close releases the conversation memory.
func (e *ChatEngine) Close() error {
	e.logger.Info("closing chat engine")
	return e.memory.Close()
}
