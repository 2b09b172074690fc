package chatws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	websocket "github.com/gofiber/contrib/websocket"

	"github.com/kavehz/MentorAppBack/internal/chatsync"
	"github.com/kavehz/MentorAppBack/internal/feed"
	"github.com/kavehz/MentorAppBack/internal/models"
	"github.com/kavehz/MentorAppBack/internal/services"
	"github.com/kavehz/MentorAppBack/internal/unread"
)

// One Session per WebSocket connection. A session owns at most one open
// conversation view (a sync engine) plus the user's unread counter;
// attaching a different conversation tears the previous engine down
// first, so there is never more than one live feed subscription per
// view.

type chatService interface {
	SendMessage(ctx context.Context, actorID int64, role string, conversationID int64, content string, attachment *models.Attachment) (*services.ChatDelivery, error)
	MarkConversationRead(ctx context.Context, actorID int64, role string, conversationID int64) (int, error)
	AcknowledgeDelivery(ctx context.Context, actorID int64, conversationID int64) error
}

// Manager tracks live sessions so the server can shut them down cleanly.
type Manager struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[*Session]struct{})}
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s] = struct{}{}
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s)
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.conn.Close()
	}
}

type SessionDeps struct {
	Service       chatService
	Source        feed.Source
	Conversations chatsync.ConversationReader
	Messages      chatsync.MessageLister
	Unread        unread.Querier
}

type Session struct {
	manager *Manager
	conn    *websocket.Conn
	userID  int64
	role    string
	deps    SessionDeps

	send   chan []byte
	cancel context.CancelFunc

	// engine is only touched from the read loop and teardown, which run
	// sequentially on the same goroutine.
	engine  *chatsync.Engine
	counter *unread.Counter
}

type inboundFrame struct {
	Type           string             `json:"type"`
	ConversationID int64              `json:"conversation_id,omitempty"`
	Content        string             `json:"content,omitempty"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
}

type outboundFrame struct {
	Type           string               `json:"type"`
	ConversationID int64                `json:"conversation_id,omitempty"`
	Message        *models.ChatMessage  `json:"message,omitempty"`
	Messages       []models.ChatMessage `json:"messages,omitempty"`
	State          string               `json:"state,omitempty"`
	Count          *int                 `json:"count,omitempty"`
	Error          string               `json:"error,omitempty"`
	Timestamp      string               `json:"timestamp,omitempty"`
}

func NewSession(manager *Manager, conn *websocket.Conn, userID int64, role string, deps SessionDeps) *Session {
	return &Session{
		manager: manager,
		conn:    conn,
		userID:  userID,
		role:    role,
		deps:    deps,
		send:    make(chan []byte, 32),
	}
}

// Run services the connection until it closes. It blocks the caller (the
// fiber websocket handler goroutine), mirroring a read-pump.
func (s *Session) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.manager.register(s)
	s.counter = unread.NewCounter(s.userID, s.deps.Unread, func(count int) {
		s.pushFrame(outboundFrame{Type: "unread", Count: &count})
	})

	unreadDone := make(chan struct{})
	go s.writePump()
	go func() {
		defer close(unreadDone)
		s.runUnread(ctx)
	}()

	s.readPump(ctx)

	cancel()
	<-unreadDone
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	close(s.send)
	s.manager.unregister(s)
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		_ = s.conn.Close()
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.pushError("invalid message payload")
			continue
		}

		switch frame.Type {
		case "attach":
			s.handleAttach(ctx, frame.ConversationID)
		case "detach":
			s.handleDetach()
		case "send":
			s.handleSend(ctx, frame)
		case "mark_read":
			s.handleMarkRead(ctx)
		case "refresh_unread":
			if _, err := s.counter.Refresh(ctx); err != nil {
				log.Printf("chat session: refresh unread for user %d: %v", s.userID, err)
			}
		default:
			s.pushError("unsupported message type")
		}
	}
}

func (s *Session) handleAttach(ctx context.Context, conversationID int64) {
	if conversationID <= 0 {
		s.pushError("invalid conversation id")
		return
	}

	// Reopening tears down the previous subscription first.
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}

	engine, err := chatsync.Open(ctx, conversationID, s.userID, chatsync.Config{
		Conversations: s.deps.Conversations,
		Messages:      s.deps.Messages,
		Source:        s.deps.Source,
		SendFunc: func(ctx context.Context, content string, attachment *models.Attachment) error {
			_, err := s.deps.Service.SendMessage(ctx, s.userID, s.role, conversationID, content, attachment)
			return err
		},
		OnHealth: func(health chatsync.Health) {
			s.pushFrame(outboundFrame{Type: "health", ConversationID: conversationID, State: string(health)})
		},
		OnApplied: func(event feed.Event) {
			message := event.Message
			kind := "message"
			if event.Type == feed.EventUpdate {
				kind = "update"
			}
			s.pushFrame(outboundFrame{Type: kind, ConversationID: conversationID, Message: &message})
		},
		OnReset: func(messages []models.ChatMessage) {
			s.pushFrame(outboundFrame{Type: "snapshot", ConversationID: conversationID, Messages: messages})
		},
	})
	if err != nil {
		if err == chatsync.ErrNotFound {
			s.pushError("conversation not found")
		} else {
			s.pushError("failed to open conversation")
		}
		return
	}
	s.engine = engine

	// Opening the view is the delivery acknowledgement.
	if err := s.deps.Service.AcknowledgeDelivery(ctx, s.userID, conversationID); err != nil {
		log.Printf("chat session: ack delivery for conversation %d: %v", conversationID, err)
	}
}

func (s *Session) handleDetach() {
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
}

func (s *Session) handleSend(ctx context.Context, frame inboundFrame) {
	if s.engine == nil {
		s.pushError("no conversation attached")
		return
	}

	// The engine does not echo locally; the feed does. On failure the
	// client keeps its draft.
	if err := s.engine.Send(ctx, frame.Content, frame.Attachment); err != nil {
		s.pushError("failed to send message")
	}
}

func (s *Session) handleMarkRead(ctx context.Context) {
	if s.engine == nil {
		s.pushError("no conversation attached")
		return
	}

	if _, err := s.deps.Service.MarkConversationRead(ctx, s.userID, s.role, s.engine.ConversationID()); err != nil {
		s.pushError("failed to mark conversation read")
	}
}

// runUnread keeps the session's unread counter fed from the user's feed
// channel, recomputing from the store after every (re)subscribe.
func (s *Session) runUnread(ctx context.Context) {
	for {
		sub, err := s.deps.Source.Subscribe(ctx, feed.UserChannel(s.userID))
		if err != nil {
			if !sleepCtx(ctx, 3*time.Second) {
				return
			}
			continue
		}

		if _, err := s.counter.Recompute(ctx); err != nil {
			log.Printf("chat session: recompute unread for user %d: %v", s.userID, err)
		} else {
			count := s.counter.Count()
			s.pushFrame(outboundFrame{Type: "unread", Count: &count})
		}

		s.consumeUnread(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, 3*time.Second) {
			return
		}
	}
}

func (s *Session) consumeUnread(ctx context.Context, sub feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			s.counter.ApplyEvent(event)
		}
	}
}

func (s *Session) writePump() {
	for payload := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (s *Session) pushError(message string) {
	s.pushFrame(outboundFrame{
		Type:      "error",
		Error:     message,
		Timestamp: services.FormatChatTimestamp(time.Now().UTC()),
	})
}

func (s *Session) pushFrame(frame outboundFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("chat session: encode frame: %v", err)
		return
	}

	select {
	case s.send <- payload:
	default:
		// Slow consumer; drop the connection rather than block the feed.
		_ = s.conn.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
