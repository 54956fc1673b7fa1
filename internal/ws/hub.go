package ws

import (
	"context"
	"sync"
	"time"

	"github.com/famlink/messaging/internal/chat"
	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/model"
	"github.com/famlink/messaging/internal/store"
)

const opTimeout = 10 * time.Second

// Hub owns every websocket connection and routes chat commands to the
// per-connection aggregator, session and conversation synchronizer.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	store   store.ConversationStore
	lister  store.ConversationLister
	tracker *chat.ReadTracker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(st store.ConversationStore, lister store.ConversationLister, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		store:      st,
		lister:     lister,
		tracker:    chat.NewReadTracker(st),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.teardownChat()
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	h.startSession(c)
}

// startSession builds the connection's chat state: unread aggregator,
// session and the initial conversation list. A failure here keeps the
// socket open; the client can retry with refresh_unread.
func (h *Hub) startSession(c *Client) {
	agg := chat.NewAggregator(h.store, c.userID)
	session := chat.NewSession(agg, h.tracker, c.userID)
	session.OnChange(func() { h.pushChatList(c, session) })

	c.chatMu.Lock()
	c.agg = agg
	c.session = session
	c.chatMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := agg.Start(ctx); err != nil {
		logger.Errorf("ws start aggregator user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unread tracking unavailable"})
	}
	h.refreshConversations(ctx, c, session)
}

func (h *Hub) refreshConversations(ctx context.Context, c *Client, session *chat.Session) {
	convs, err := h.lister.Conversations(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws load conversations user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to load conversations"})
		return
	}
	session.SetConversations(convs)
}

func (h *Hub) pushChatList(c *Client, session *chat.Session) {
	h.sendToClient(c, OutgoingMessage{Type: EventConversations, Payload: ConversationsPayload{
		Conversations: ToConversationViews(session.Conversations()),
		TotalUnread:   session.TotalUnread(),
	}})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.teardownChat()
	c.Close()
}

// IsOnline reports whether the user holds at least one live connection.
// The push bridge uses it to skip notifications the user will see live.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventOpenConversation:
		h.handleOpenConversation(ctx, c, msg)
	case EventCloseConversation:
		h.handleCloseConversation(c)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventSelectConversation:
		h.handleSelectConversation(ctx, c, msg)
	case EventClearSelection:
		h.handleClearSelection(c)
	case EventAppState:
		h.handleAppState(ctx, c, msg)
	case EventRefreshUnread:
		h.handleRefreshUnread(ctx, c)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleOpenConversation(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleOpenConversation", time.Now())()
	if msg.CounterpartyID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "counterparty_id required"})
		return
	}
	key := model.ConversationKey{CounterpartyID: msg.CounterpartyID, Group: msg.Group}

	thread := chat.NewSynchronizer(h.store, h.tracker, c.userID, key)
	thread.OnAppend(func(m model.Message) {
		h.sendToClient(c, OutgoingMessage{Type: EventNewMessage, Payload: NewMessagePayload{Message: ToView(m)}})
	})

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := thread.Load(ctx); err != nil {
		if chat.IsKind(err, chat.KindRead) {
			logger.Errorf("ws open conversation user=%s: %v", c.userID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to load conversation"})
			return
		}
		// History loaded but the live subscription did not come up; the
		// client still gets the messages and can reopen later.
		logger.Errorf("ws open conversation subscribe user=%s: %v", c.userID, err)
	}

	c.chatMu.Lock()
	old := c.thread
	c.thread = thread
	c.chatMu.Unlock()
	if old != nil {
		old.Close()
	}

	msgs := thread.Messages()
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = ToView(m)
	}
	h.sendToClient(c, OutgoingMessage{Type: EventHistory, Payload: HistoryPayload{
		CounterpartyID: key.CounterpartyID,
		Group:          key.Group,
		Messages:       views,
	}})
}

func (h *Hub) handleCloseConversation(c *Client) {
	c.chatMu.Lock()
	thread := c.thread
	c.thread = nil
	c.chatMu.Unlock()
	if thread != nil {
		thread.Close()
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	c.chatMu.Lock()
	thread := c.thread
	c.chatMu.Unlock()
	if thread == nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "no open conversation"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	confirmed, err := thread.Send(ctx, msg.Content)
	if err != nil {
		logger.Errorf("ws send user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventSendFailed, Payload: SendFailedPayload{Reason: "failed to send message"}})
		return
	}
	if confirmed == nil {
		// Whitespace-only content is dropped without an error.
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMessageConfirmed, Payload: ConfirmedPayload{Message: ToView(confirmed)}})
}

func (h *Hub) handleSelectConversation(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSelectConversation", time.Now())()
	if msg.CounterpartyID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "counterparty_id required"})
		return
	}
	c.chatMu.Lock()
	session := c.session
	c.chatMu.Unlock()
	if session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	key := model.ConversationKey{CounterpartyID: msg.CounterpartyID, Group: msg.Group}
	if err := session.Select(ctx, key); err != nil {
		logger.Errorf("ws select user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to mark conversation read"})
	}
}

func (h *Hub) handleClearSelection(c *Client) {
	c.chatMu.Lock()
	session := c.session
	c.chatMu.Unlock()
	if session != nil {
		session.ClearSelection()
	}
}

func (h *Hub) handleAppState(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.State != "foreground" {
		return
	}
	c.chatMu.Lock()
	agg, session := c.agg, c.session
	c.chatMu.Unlock()
	if agg == nil || session == nil {
		return
	}
	// Converge with whatever happened while the app was backgrounded.
	agg.Foreground()
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	h.refreshConversations(ctx, c, session)
}

func (h *Hub) handleRefreshUnread(ctx context.Context, c *Client) {
	c.chatMu.Lock()
	agg, session := c.agg, c.session
	c.chatMu.Unlock()
	if agg == nil || session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := agg.Refresh(ctx); err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to refresh unread counts"})
		return
	}
	ix := agg.Index()
	h.sendToClient(c, OutgoingMessage{Type: EventUnreadIndex, Payload: UnreadPayload{Counts: ix.Counts, Total: ix.Total}})
	h.refreshConversations(ctx, c, session)
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
