package condition

import (
	"fmt"
	"time"
)

// Vote tallies yea/nay/abstain ballots, one per actor. It resolves when a
// configured majority of the eligible voters is reached, when every
// eligible voter has voted, or when the voting period has elapsed. The
// deadline is checked lazily on each read.
type Vote struct {
	Base

	// PublicizeVotes exposes individual ballots in Describe output.
	PublicizeVotes bool `json:"publicize_votes"`
	// AllowAbstain accepts abstain ballots.
	AllowAbstain bool `json:"allow_abstain"`
	// RequireMajority resolves the vote as soon as yeas or nays exceed
	// half of the eligible voters, without waiting for the rest.
	RequireMajority bool `json:"require_majority"`
	// EligibleCount is the number of eligible voters when individually
	// enumerable, zero when eligibility is role-based and unbounded.
	EligibleCount int `json:"eligible_count"`
	// VotingPeriod is the minimum voting duration. Zero means the vote
	// only resolves by majority or full participation.
	VotingPeriod time.Duration `json:"voting_period"`

	Ballots map[string]Choice `json:"ballots"`
}

// Type implements Instance.
func (v *Vote) Type() Type { return TypeVote }

// Apply records one ballot. A repeat ballot from the same actor is ignored,
// leaving the tally unchanged.
func (v *Vote) Apply(actor string, choice Choice, now time.Time) error {
	if v.Resolved(now) {
		return ErrAlreadyResolved
	}
	switch choice {
	case ChoiceYea, ChoiceNay:
	case ChoiceAbstain:
		if !v.AllowAbstain {
			return fmt.Errorf("%w: abstentions are not accepted on this vote", ErrInvalidChoice)
		}
	default:
		return fmt.Errorf("%w: %q on vote condition", ErrInvalidChoice, choice)
	}
	if v.Ballots == nil {
		v.Ballots = make(map[string]Choice)
	}
	if _, voted := v.Ballots[actor]; voted {
		return nil
	}
	v.Ballots[actor] = choice
	return nil
}

// Tally returns the current yea, nay, and abstain counts.
func (v *Vote) Tally() (yeas, nays, abstains int) {
	for _, ballot := range v.Ballots {
		switch ballot {
		case ChoiceYea:
			yeas++
		case ChoiceNay:
			nays++
		case ChoiceAbstain:
			abstains++
		}
	}
	return yeas, nays, abstains
}

// Deadline returns the end of the voting period and whether one is set.
func (v *Vote) Deadline() (time.Time, bool) {
	if v.VotingPeriod <= 0 {
		return time.Time{}, false
	}
	return v.CreatedAt.Add(v.VotingPeriod), true
}

func (v *Vote) expired(now time.Time) bool {
	deadline, ok := v.Deadline()
	return ok && !now.Before(deadline)
}

// Resolved implements Instance.
func (v *Vote) Resolved(now time.Time) bool {
	yeas, nays, _ := v.Tally()
	if v.RequireMajority && v.EligibleCount > 0 {
		if yeas > v.EligibleCount/2 || nays > v.EligibleCount/2 {
			return true
		}
	}
	if v.EligibleCount > 0 && len(v.Ballots) >= v.EligibleCount {
		return true
	}
	return v.expired(now)
}

// Approved implements Instance.
func (v *Vote) Approved(now time.Time) bool {
	if !v.Resolved(now) {
		return false
	}
	yeas, nays, _ := v.Tally()
	if v.RequireMajority && v.EligibleCount > 0 {
		return yeas > v.EligibleCount/2
	}
	return yeas > nays
}

// Describe implements Instance.
func (v *Vote) Describe(now time.Time) string {
	yeas, nays, abstains := v.Tally()
	state := "open"
	if v.Resolved(now) {
		if v.Approved(now) {
			state = "passed"
		} else {
			state = "failed"
		}
	}
	summary := fmt.Sprintf("vote %s: %d yea, %d nay, %d abstain", state, yeas, nays, abstains)
	if !v.PublicizeVotes {
		return summary
	}
	for actor, ballot := range v.Ballots {
		summary += fmt.Sprintf("; %s voted %s", actor, ballot)
	}
	return summary
}

// Clone implements Instance.
func (v *Vote) Clone() Instance {
	cp := *v
	cp.Ballots = make(map[string]Choice, len(v.Ballots))
	for actor, ballot := range v.Ballots {
		cp.Ballots[actor] = ballot
	}
	return &cp
}
