package condition

import (
	"fmt"
	"time"
)

// Consensus collects support/oppose/block/abstain responses. In strict mode
// every eligible responder must respond and nobody may block; in loose mode
// the condition becomes resolvable once the minimum discussion duration has
// elapsed. Responders may change their response while the condition is open.
type Consensus struct {
	Base

	// IsStrict requires full participation before resolution.
	IsStrict bool `json:"is_strict"`
	// MinimumDuration is the minimum discussion period before a loose
	// consensus can resolve. Checked lazily on each read.
	MinimumDuration time.Duration `json:"minimum_duration"`
	// EligibleCount is the number of eligible responders when individually
	// enumerable, zero when eligibility is role-based and unbounded.
	EligibleCount int `json:"eligible_count"`

	Responses map[string]Choice `json:"responses"`
}

// Type implements Instance.
func (c *Consensus) Type() Type { return TypeConsensus }

// Apply records or updates one actor's response.
func (c *Consensus) Apply(actor string, choice Choice, now time.Time) error {
	if c.Resolved(now) {
		return ErrAlreadyResolved
	}
	switch choice {
	case ChoiceSupport, ChoiceOppose, ChoiceBlock, ChoiceAbstain:
	default:
		return fmt.Errorf("%w: %q on consensus condition", ErrInvalidChoice, choice)
	}
	if c.Responses == nil {
		c.Responses = make(map[string]Choice)
	}
	c.Responses[actor] = choice
	return nil
}

// Counts returns the current response counts.
func (c *Consensus) Counts() (support, oppose, block, abstain int) {
	for _, response := range c.Responses {
		switch response {
		case ChoiceSupport:
			support++
		case ChoiceOppose:
			oppose++
		case ChoiceBlock:
			block++
		case ChoiceAbstain:
			abstain++
		}
	}
	return support, oppose, block, abstain
}

func (c *Consensus) fullParticipation() bool {
	return c.EligibleCount > 0 && len(c.Responses) >= c.EligibleCount
}

func (c *Consensus) durationElapsed(now time.Time) bool {
	return !now.Before(c.CreatedAt.Add(c.MinimumDuration))
}

// Resolved implements Instance.
func (c *Consensus) Resolved(now time.Time) bool {
	if c.fullParticipation() {
		return true
	}
	if c.IsStrict {
		return false
	}
	return c.durationElapsed(now)
}

// Approved implements Instance.
func (c *Consensus) Approved(now time.Time) bool {
	if !c.Resolved(now) {
		return false
	}
	support, oppose, block, _ := c.Counts()
	if block > 0 {
		return false
	}
	if c.IsStrict && !c.fullParticipation() {
		return false
	}
	return support > oppose
}

// Describe implements Instance.
func (c *Consensus) Describe(now time.Time) string {
	support, oppose, block, abstain := c.Counts()
	state := "open"
	if c.Resolved(now) {
		if c.Approved(now) {
			state = "reached"
		} else {
			state = "not reached"
		}
	}
	return fmt.Sprintf("consensus %s: %d support, %d oppose, %d block, %d abstain",
		state, support, oppose, block, abstain)
}

// Clone implements Instance.
func (c *Consensus) Clone() Instance {
	cp := *c
	cp.Responses = make(map[string]Choice, len(c.Responses))
	for actor, response := range c.Responses {
		cp.Responses[actor] = response
	}
	return &cp
}
