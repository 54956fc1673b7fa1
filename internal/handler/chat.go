package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/famlink/messaging/internal/chat"
	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/middleware"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
	"github.com/famlink/messaging/internal/ws"
)

// ChatHandler is the REST surface over the conversation store, for
// clients that are not holding a websocket (widget refresh, pull to
// refresh, share-sheet sends).
type ChatHandler struct {
	store  store.ConversationStore
	lister store.ConversationLister
}

func NewChatHandler(st store.ConversationStore, lister store.ConversationLister) *ChatHandler {
	return &ChatHandler{store: st, lister: lister}
}

// ListConversations returns the viewer's chat list with unread badges
// merged in from a one-shot index computation.
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	convs, err := h.lister.Conversations(r.Context(), userID)
	if err != nil {
		logger.Errorf("list conversations user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}
	ix, err := chat.ComputeIndex(r.Context(), h.store, userID)
	if err != nil {
		logger.Errorf("unread index user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load unread counts")
		return
	}
	for i := range convs {
		convs[i].UnreadCount = ix.Count(convs[i].Key.CounterpartyID)
	}
	writeJSON(w, http.StatusOK, ws.ConversationsPayload{
		Conversations: ws.ToConversationViews(convs),
		TotalUnread:   ix.Total,
	})
}

// UnreadIndex returns the raw per-counterparty unread counts.
func (h *ChatHandler) UnreadIndex(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ix, err := chat.ComputeIndex(r.Context(), h.store, userID)
	if err != nil {
		logger.Errorf("unread index user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load unread counts")
		return
	}
	writeJSON(w, http.StatusOK, ws.UnreadPayload{Counts: ix.Counts, Total: ix.Total})
}

// DirectHistory returns the full message sequence with one user.
func (h *ChatHandler) DirectHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	counterpartyID := chi.URLParam(r, "userID")
	if counterpartyID == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}

	msgs, err := h.store.DirectHistory(r.Context(), userID, counterpartyID)
	if err != nil {
		logger.Errorf("direct history user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeHistory(w, counterpartyID, false, directViews(msgs))
}

// GroupHistory returns the full thread of a family member, caregivers
// only.
func (h *ChatHandler) GroupHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	memberID := chi.URLParam(r, "memberID")
	if memberID == "" {
		writeError(w, http.StatusBadRequest, "member id required")
		return
	}
	if !h.isCaregiver(r, memberID, userID, w) {
		return
	}

	msgs, err := h.store.GroupHistory(r.Context(), memberID)
	if err != nil {
		logger.Errorf("group history member=%s: %v", memberID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeHistory(w, memberID, true, groupViews(msgs))
}

type sendRequest struct {
	Content string `json:"content"`
}

// SendDirect inserts one direct message and returns the confirmed row.
func (h *ChatHandler) SendDirect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	counterpartyID := chi.URLParam(r, "userID")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	if counterpartyID == userID {
		writeError(w, http.StatusBadRequest, "cannot message yourself")
		return
	}

	confirmed, err := h.store.InsertDirect(r.Context(), &model.DirectMessage{
		SenderID:   userID,
		ReceiverID: counterpartyID,
		Content:    req.Content,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("send direct user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, ws.ConfirmedPayload{Message: ws.ToView(confirmed)})
}

// SendGroup inserts one message into a family member's thread,
// caregivers only. The sender starts in read_by.
func (h *ChatHandler) SendGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	memberID := chi.URLParam(r, "memberID")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	if !h.isCaregiver(r, memberID, userID, w) {
		return
	}

	confirmed, err := h.store.InsertGroup(r.Context(), &model.GroupMessage{
		SenderID:  userID,
		MemberID:  memberID,
		Content:   req.Content,
		ReadBy:    []string{userID},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("send group member=%s user=%s: %v", memberID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, ws.ConfirmedPayload{Message: ws.ToView(confirmed)})
}

type markReadRequest struct {
	CounterpartyID string `json:"counterparty_id"`
	Group          bool   `json:"group"`
}

// MarkRead runs the read-state transition for one conversation.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.CounterpartyID == "" {
		writeError(w, http.StatusBadRequest, "counterparty_id required")
		return
	}

	tracker := chat.NewReadTracker(h.store)
	key := model.ConversationKey{CounterpartyID: req.CounterpartyID, Group: req.Group}
	if err := tracker.MarkConversationRead(r.Context(), key, userID); err != nil {
		logger.Errorf("mark read user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isCaregiver writes the error response itself and returns false when
// the viewer is not on the member's care team.
func (h *ChatHandler) isCaregiver(r *http.Request, memberID, userID string, w http.ResponseWriter) bool {
	caregivers, err := h.lister.Caregivers(r.Context(), memberID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "family member not found")
		return false
	}
	if err != nil {
		logger.Errorf("caregivers member=%s: %v", memberID, err)
		writeError(w, http.StatusInternalServerError, "failed to check access")
		return false
	}
	for _, id := range caregivers {
		if id == userID {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "not a caregiver of this family member")
	return false
}

func writeHistory(w http.ResponseWriter, counterpartyID string, group bool, views []ws.MessageView) {
	writeJSON(w, http.StatusOK, ws.HistoryPayload{
		CounterpartyID: counterpartyID,
		Group:          group,
		Messages:       views,
	})
}

func directViews(msgs []*model.DirectMessage) []ws.MessageView {
	out := make([]ws.MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = ws.ToView(m)
	}
	return out
}

func groupViews(msgs []*model.GroupMessage) []ws.MessageView {
	out := make([]ws.MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = ws.ToView(m)
	}
	return out
}
