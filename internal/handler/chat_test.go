package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlink/messaging/internal/handler"
	"github.com/famlink/messaging/internal/middleware"
	"github.com/famlink/messaging/internal/store/memory"
)

func newChatRouter(t *testing.T) (*chi.Mux, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.AddUser("alice", "Alice")
	st.AddUser("bob", "Bob")
	st.AddFamilyMember("noah", "Noah", "alice", "bob")

	h := handler.NewChatHandler(st, st)
	r := chi.NewRouter()
	r.Use(middleware.Identity)
	r.Post("/api/conversations/direct/{userID}/messages", h.SendDirect)
	r.Post("/api/conversations/group/{memberID}/messages", h.SendGroup)
	return r, st
}

func postJSON(r http.Handler, userID, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", userID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendDirectRejectsWhitespaceContent(t *testing.T) {
	r, st := newChatRouter(t)

	w := postJSON(r, "alice", "/api/conversations/direct/bob/messages", `{"content":"   \n\t"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	msgs, err := st.DirectHistory(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, msgs, "blank message must not be inserted")
}

func TestSendDirectTrimsAndInserts(t *testing.T) {
	r, st := newChatRouter(t)

	w := postJSON(r, "alice", "/api/conversations/direct/bob/messages", `{"content":"  hello  "}`)
	require.Equal(t, http.StatusCreated, w.Code)

	msgs, err := st.DirectHistory(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSendGroupRejectsWhitespaceContent(t *testing.T) {
	r, st := newChatRouter(t)

	w := postJSON(r, "alice", "/api/conversations/group/noah/messages", `{"content":" "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	msgs, err := st.GroupHistory(context.Background(), "noah")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
