package conversation

// CompletionPolicy decides how an exchange reports completion.
type CompletionPolicy string

const (
	// PolicyExplicit trusts the Completed flag set by the orchestration layer.
	PolicyExplicit CompletionPolicy = "explicit"
	// PolicyDerived derives completion from the last item's terminal status.
	PolicyDerived CompletionPolicy = "derived"
)

// Exchange is one ordered round of "user turn -> zero or more tool turns ->
// assistant turn". Items are append-only and never reordered; only the most
// recent unfinished item of a given type is a valid streaming target.
type Exchange struct {
	Items     []*Item `json:"items"`
	Completed bool    `json:"completed"`
}

// NewExchange returns an empty exchange.
func NewExchange() *Exchange {
	return &Exchange{}
}

// LastItem returns the most recent item of the given type, scanning in
// reverse, or nil when the exchange holds none. Streaming deltas target the
// item this returns.
func (e *Exchange) LastItem(t ItemType) *Item {
	for i := len(e.Items) - 1; i >= 0; i-- {
		if e.Items[i].Type == t {
			return e.Items[i]
		}
	}
	return nil
}

// IsCompleted reports exchange completion under the given policy.
func (e *Exchange) IsCompleted(policy CompletionPolicy) bool {
	if policy == PolicyDerived {
		if len(e.Items) == 0 {
			return false
		}
		last := e.Items[len(e.Items)-1]
		return last.Status.IsTerminal(last.Type)
	}
	return e.Completed
}
