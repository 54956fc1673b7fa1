package model

// UnreadIndex maps counterparty id (message sender for direct threads,
// family-member id for group threads) to the number of unread messages.
// It is rebuilt wholesale on every refresh, never patched incrementally.
type UnreadIndex struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// NewUnreadIndex returns an empty index.
func NewUnreadIndex() UnreadIndex {
	return UnreadIndex{Counts: make(map[string]int)}
}

// Count returns the unread count for a counterparty (0 if absent).
func (ix UnreadIndex) Count(counterpartyID string) int {
	return ix.Counts[counterpartyID]
}

// Clone returns a deep copy so callers can hand the index out without
// exposing the aggregator's internal map.
func (ix UnreadIndex) Clone() UnreadIndex {
	out := UnreadIndex{Counts: make(map[string]int, len(ix.Counts)), Total: ix.Total}
	for k, v := range ix.Counts {
		out.Counts[k] = v
	}
	return out
}
