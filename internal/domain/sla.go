package domain

// SLAState classifies a request against its resolution target.
type SLAState string

const (
	SLAStateOnTime   SLAState = "on_time"
	SLAStateAtRisk   SLAState = "at_risk"
	SLAStateBreached SLAState = "breached"
)

// Breach reasons distinguish late resolutions from overdue open requests.
const (
	BreachReasonLateResolution = "late_resolution"
	BreachReasonOverdueOpen    = "overdue_open"
)

// EscalationStep names an action due once the SLA clock passes a threshold.
type EscalationStep struct {
	AfterHours int    `json:"after_hours"`
	Action     string `json:"action"`
}

const (
	EscalationActionNotifyDispatcher = "notify_dispatcher"
	EscalationActionNotifyManager    = "notify_manager"
)

// SLAPolicy is selected at creation and whenever priority or category
// change, then cached on the request document.
type SLAPolicy struct {
	PolicyID             string           `json:"policy_id"`
	TargetHours          int              `json:"target_hours"`
	BreachThresholdHours int              `json:"breach_threshold_hours"`
	EscalationSteps      []EscalationStep `json:"escalation_steps"`
}

// SLAComputed is derived state. It is recomputed fresh from the source
// timestamps on every mutation and never edited by hand.
type SLAComputed struct {
	TargetHours          int      `json:"sla_target_hours"`
	BreachThresholdHours int      `json:"breach_threshold_hours"`
	ElapsedHours         float64  `json:"elapsed_hours"`
	State                SLAState `json:"sla_state"`
	BreachReason         *string  `json:"breach_reason,omitempty"`
}
