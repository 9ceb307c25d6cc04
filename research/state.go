package research

import (
	"fmt"
	"strings"

	"github.com/lexcodex/researchbot/framework"
)

// Sentinel snippet blocks recorded for a query that produced nothing usable.
const (
	NoResults   = "NO_RESULTS"
	SearchError = "SEARCH_ERROR"
)

// Source is one citable search hit. ShortMarker is the "[n]" token the model
// sees; it is unique within a run.
type Source struct {
	Title       string `json:"title"`
	ShortMarker string `json:"short_marker"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
}

// SourceRef is what callers get back for each cited source.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// QueryPlan is the planner's decision for the first round.
type QueryPlan struct {
	Queries        []string `json:"queries"`
	ShouldResearch bool     `json:"should_research"`
	Rationale      string   `json:"rationale,omitempty"`
}

// ReflectionVerdict is the reflection step's assessment of gathered evidence.
type ReflectionVerdict struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// RunConfig bounds a single research run.
type RunConfig struct {
	InitialSearchQueryCount int
	MaxResearchLoops        int
	RecursionLimit          int
	// BroadenOnEmptyFollowUps asks reflection again for broader queries
	// instead of finalizing when it proposes nothing new.
	BroadenOnEmptyFollowUps bool
}

// DefaultRunConfig returns 3 initial queries, 2 loops and a 25 step ceiling.
// The run finalizes as soon as reflection proposes nothing new.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InitialSearchQueryCount: 3,
		MaxResearchLoops:        2,
		RecursionLimit:          25,
	}
}

// RunConfigFrom maps the file/env configuration onto a RunConfig.
func RunConfigFrom(cfg framework.ResearchConfig) RunConfig {
	return RunConfig{
		InitialSearchQueryCount: cfg.InitialQueries,
		MaxResearchLoops:        cfg.MaxLoops,
		RecursionLimit:          cfg.RecursionLimit,
		BroadenOnEmptyFollowUps: cfg.BroadenOnEmptyFollowUps,
	}.normalized()
}

func (c RunConfig) normalized() RunConfig {
	def := DefaultRunConfig()
	if c.InitialSearchQueryCount <= 0 {
		c.InitialSearchQueryCount = def.InitialSearchQueryCount
	}
	if c.MaxResearchLoops <= 0 {
		c.MaxResearchLoops = def.MaxResearchLoops
	}
	if c.RecursionLimit <= 0 {
		c.RecursionLimit = def.RecursionLimit
	}
	return c
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	FinalText   string      `json:"final_text"`
	SourcesUsed []SourceRef `json:"sources_used"`
	LoopsRun    int         `json:"loops_run"`
	Queries     []string    `json:"queries,omitempty"`
}

// ResearchState is the per-run working memory shared by every node. It is
// owned by exactly one run and never shared across goroutines except through
// the search executor's combine step.
type ResearchState struct {
	Messages          []framework.Message
	SearchQuery       []string
	WebResearchResult []string
	SourcesGathered   []Source
	CurrentQueries    []string

	ResearchLoopCount       int
	InitialSearchQueryCount int
	MaxResearchLoops        int

	Plan    QueryPlan
	Verdict ReflectionVerdict

	FinalText   string
	SourcesUsed []Source

	// broaden is set when the loop controller asks reflection to run again
	// because the previous pass proposed no new queries.
	broaden bool
}

// NewState seeds a run from the conversation and its configuration.
func NewState(history []framework.Message, cfg RunConfig) *ResearchState {
	cfg = cfg.normalized()
	return &ResearchState{
		Messages:                framework.WindowHistory(history, 0),
		InitialSearchQueryCount: cfg.InitialSearchQueryCount,
		MaxResearchLoops:        cfg.MaxResearchLoops,
	}
}

// Result converts the terminal state into a RunResult.
func (s *ResearchState) Result() *RunResult {
	refs := make([]SourceRef, 0, len(s.SourcesUsed))
	for _, src := range s.SourcesUsed {
		refs = append(refs, SourceRef{Title: src.Title, URL: src.URL})
	}
	return &RunResult{
		FinalText:   s.FinalText,
		SourcesUsed: refs,
		LoopsRun:    s.ResearchLoopCount,
		Queries:     append([]string(nil), s.SearchQuery...),
	}
}

// IsSentinel reports whether a snippet block carries no evidence.
func IsSentinel(block string) bool {
	return block == NoResults || block == SearchError
}

// Summaries renders the gathered evidence for the reflection and answer
// prompts. Queries whose block is a sentinel are left out.
func (s *ResearchState) Summaries() string {
	var parts []string
	for i, q := range s.SearchQuery {
		if i >= len(s.WebResearchResult) {
			break
		}
		block := s.WebResearchResult[i]
		if IsSentinel(block) {
			continue
		}
		parts = append(parts, fmt.Sprintf("Query: %s\n\nSearch Results: %s", q, block))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Topic renders the conversation as the research topic. A single message is
// used verbatim; longer histories are flattened into "User:"/"Assistant:"
// lines.
func (s *ResearchState) Topic() string {
	return researchTopic(s.Messages)
}

func researchTopic(messages []framework.Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case framework.RoleUser:
			b.WriteString("User: ")
		case framework.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
