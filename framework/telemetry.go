package framework

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventGraphStart   EventType = "graph_start"
	EventGraphFinish  EventType = "graph_finish"
	EventNodeStart    EventType = "node_start"
	EventNodeFinish   EventType = "node_finish"
	EventNodeError    EventType = "node_error"
	EventLLMPrompt    EventType = "llm_prompt"
	EventLLMResponse  EventType = "llm_response"
	EventSearchCall   EventType = "search_call"
	EventSearchResult EventType = "search_result"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	NodeID    string                 `json:"node_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry captures execution traces emitted by the graph runtime and the
// model/search adapters.
type Telemetry interface {
	Emit(event Event)
}

// NopTelemetry drops every event.
type NopTelemetry struct{}

// Emit implements Telemetry.
func (NopTelemetry) Emit(Event) {}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
type JSONFileTelemetry struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{file: f, enc: json.NewEncoder(f)}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// ZapTelemetry emits events through a structured logger at debug level, except
// node errors which are logged as warnings.
type ZapTelemetry struct {
	Logger *zap.Logger
}

// Emit logs the event.
func (t ZapTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("run_id", event.RunID),
	}
	if event.NodeID != "" {
		fields = append(fields, zap.String("node", event.NodeID))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("meta", event.Metadata))
	}
	if event.Type == EventNodeError {
		logger.Warn(event.Message, fields...)
		return
	}
	logger.Debug(event.Message, fields...)
}

// ConsoleTelemetry prints node transitions in colour, one line per event.
// Prompt and response events are skipped; they are too noisy for a terminal.
type ConsoleTelemetry struct {
	Out io.Writer
	mu  sync.Mutex
}

// Emit prints the event.
func (c *ConsoleTelemetry) Emit(event Event) {
	var line string
	switch event.Type {
	case EventNodeStart:
		line = color.CyanString("→ %s", event.NodeID)
	case EventNodeFinish:
		line = color.GreenString("✓ %s", event.NodeID)
	case EventNodeError:
		line = color.RedString("✗ %s: %s", event.NodeID, event.Message)
	case EventSearchCall:
		line = color.YellowString("  searching: %s", event.Message)
	case EventGraphFinish:
		line = color.MagentaString("finished run %s (%v)", event.RunID, event.Metadata["status"])
	default:
		return
	}
	out := c.Out
	if out == nil {
		out = os.Stderr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(out, line)
}
