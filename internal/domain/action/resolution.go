package action

// Tier identifies which authority tier produced a verdict.
type Tier string

const (
	// TierFoundational is the owner tier. When applicable it is the only
	// tier consulted.
	TierFoundational Tier = "foundational"
	// TierGoverning is the governor tier.
	TierGoverning Tier = "governing"
	// TierSpecific is the permission-record tier.
	TierSpecific Tier = "specific"
)

// TierVerdict is the outcome of evaluating one tier.
type TierVerdict string

const (
	// VerdictApproved means the tier authorised the action outright.
	VerdictApproved TierVerdict = "approved"
	// VerdictWaiting means the tier could authorise the action pending one
	// or more conditions.
	VerdictWaiting TierVerdict = "waiting"
	// VerdictNoMatch means the tier had nothing to say about the actor.
	VerdictNoMatch TierVerdict = "no_match"
	// VerdictRejected means the tier was applicable and denied the action.
	VerdictRejected TierVerdict = "rejected"
	// VerdictSkipped means the tier was never consulted.
	VerdictSkipped TierVerdict = "skipped"
)

// TierResult records what one tier decided and why.
type TierResult struct {
	Verdict TierVerdict `json:"verdict"`
	// Role is set when a role grant rather than a direct actor grant
	// matched.
	Role string `json:"role,omitempty"`
	// PermissionID is set on the specific tier when a record matched.
	PermissionID string `json:"permission_id,omitempty"`
	// ConditionIDs lists condition instances this tier is waiting on.
	ConditionIDs []string `json:"condition_ids,omitempty"`
	// Log explains the verdict in prose.
	Log string `json:"log,omitempty"`
}

// Resolution is the full audit trail of one resolution pass over an
// action. Re-resolution overwrites it with the latest pass.
type Resolution struct {
	Foundational TierResult `json:"foundational"`
	Governing    TierResult `json:"governing"`
	Specific     TierResult `json:"specific"`

	// ApprovedThrough names the tier that authorised the action, empty
	// until one does.
	ApprovedThrough Tier `json:"approved_through,omitempty"`
	// Log is the overall narrative for the pass.
	Log string `json:"log,omitempty"`
	// Passes counts resolution passes, including the first.
	Passes int `json:"passes"`
}

// ConditionIDs collects every condition instance the action waits on,
// across tiers.
func (r Resolution) ConditionIDs() []string {
	var ids []string
	ids = append(ids, r.Foundational.ConditionIDs...)
	ids = append(ids, r.Governing.ConditionIDs...)
	ids = append(ids, r.Specific.ConditionIDs...)
	return ids
}

func (r Resolution) clone() Resolution {
	cp := r
	cp.Foundational.ConditionIDs = append([]string(nil), r.Foundational.ConditionIDs...)
	cp.Governing.ConditionIDs = append([]string(nil), r.Governing.ConditionIDs...)
	cp.Specific.ConditionIDs = append([]string(nil), r.Specific.ConditionIDs...)
	return cp
}
