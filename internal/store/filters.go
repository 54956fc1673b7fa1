package store

import "github.com/famlink/messaging/internal/model"

// MatchDirect filters for direct messages between the two users,
// regardless of direction.
func MatchDirect(viewerID, counterpartyID string) func(model.Message) bool {
	return func(m model.Message) bool {
		dm, ok := m.(*model.DirectMessage)
		if !ok {
			return false
		}
		return (dm.SenderID == viewerID && dm.ReceiverID == counterpartyID) ||
			(dm.SenderID == counterpartyID && dm.ReceiverID == viewerID)
	}
}

// MatchGroup filters for messages in one family member's thread.
func MatchGroup(memberID string) func(model.Message) bool {
	return func(m model.Message) bool {
		gm, ok := m.(*model.GroupMessage)
		return ok && gm.MemberID == memberID
	}
}

// MatchAll passes every row.
func MatchAll(model.Message) bool { return true }
