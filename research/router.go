package research

// Decision is the loop controller's routing choice after reflection.
type Decision string

const (
	DecisionSearchAgain  Decision = nodeWebResearch
	DecisionFinalize     Decision = nodeFinalizeAnswer
	DecisionReflectAgain Decision = nodeReflection
)

// LoopController decides whether another research round runs.
type LoopController struct {
	// BroadenOnEmptyFollowUps asks reflection once more for broader queries
	// when it proposes nothing new, still bounded by the loop ceiling. The
	// zero value finalizes instead.
	BroadenOnEmptyFollowUps bool
}

// Route is a pure function of the state.
func (c LoopController) Route(state *ResearchState) Decision {
	if state.Verdict.IsSufficient || state.ResearchLoopCount >= state.MaxResearchLoops {
		return DecisionFinalize
	}
	if len(state.Verdict.FollowUpQueries) == 0 {
		if c.BroadenOnEmptyFollowUps {
			return DecisionReflectAgain
		}
		return DecisionFinalize
	}
	return DecisionSearchAgain
}

// Advance routes and applies the chosen transition to the state: staging the
// follow-ups as the next batch, or flagging the next reflection to broaden.
func (c LoopController) Advance(state *ResearchState) Decision {
	d := c.Route(state)
	switch d {
	case DecisionSearchAgain:
		state.CurrentQueries = append([]string(nil), state.Verdict.FollowUpQueries...)
	case DecisionReflectAgain:
		state.broaden = true
	}
	return d
}
