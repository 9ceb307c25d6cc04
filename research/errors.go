package research

import (
	"errors"
	"fmt"

	"github.com/lexcodex/researchbot/framework"
)

var (
	// ErrProvider matches any failed language model call inside a run.
	ErrProvider = errors.New("provider failure")
	// ErrRecursionLimit is returned when a run exceeds its step ceiling.
	ErrRecursionLimit = framework.ErrStepLimit
)

// ProviderError records which step's model call failed.
type ProviderError struct {
	Node string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Node, ErrProvider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProvider) match every ProviderError.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

func providerError(node string, err error) error {
	return &ProviderError{Node: node, Err: err}
}

// Fixed messages shown to end users; raw errors are only logged.
const (
	MessageTooManySteps = "The research took too many steps and was stopped. Please try a narrower question."
	MessageFailed       = "Sorry, something went wrong while researching your question. Please try again."
)

// UserMessage maps a run error onto a message that is safe to show clients.
func UserMessage(err error) string {
	if errors.Is(err, ErrRecursionLimit) {
		return MessageTooManySteps
	}
	return MessageFailed
}
