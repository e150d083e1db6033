package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

const channelsPathPrefix = "/api/kernels/"

var ErrSessionClosed = errors.New("kernel channel session is closed")

// SessionHandler reacts to the sessions and messages of a KernelChannelServer.
type SessionHandler interface {
	// OnOpen is called once a websocket has been accepted, before any of its messages are read.
	OnOpen(session *Session)

	// HandleMessage is called for each decoded message, in the order the client sent them.
	HandleMessage(ctx context.Context, session *Session, msg *messaging.Message)

	// OnClose is called once the session's websocket has failed or been closed.
	OnClose(session *Session, err error)
}

// Session is one accepted kernel channels websocket.
type Session struct {
	KernelID string
	ClientID string

	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Send encodes msg and writes it to the client.
func (s *Session) Send(ctx context.Context, msg *messaging.Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}

	data, binary, err := messaging.Serialize(msg)
	if err != nil {
		return err
	}

	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}

	return s.conn.Write(ctx, typ, data)
}

// WriteRaw writes a frame as is, without encoding.
func (s *Session) WriteRaw(ctx context.Context, typ websocket.MessageType, data []byte) error {
	return s.conn.Write(ctx, typ, data)
}

// Close closes the websocket with the given status.
func (s *Session) Close(code websocket.StatusCode, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.conn.Close(code, reason)
}

// Drop closes the underlying connection without a closing handshake.
func (s *Session) Drop() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return s.conn.CloseNow()
}

// KernelChannelServer accepts websockets at /api/kernels/<id>/channels and hands the decoded
// messages of each to a SessionHandler.
type KernelChannelServer struct {
	handler        SessionHandler
	maxMessageSize int64
	messageRate    rate.Limit
	burst          int

	mu       sync.Mutex
	sessions map[*Session]struct{}

	log logger.Logger
}

// NewKernelChannelServer creates a server. messageRate limits how fast each session's
// messages are read; use rate.Inf for no limit.
func NewKernelChannelServer(handler SessionHandler, maxMessageSize int64, messageRate rate.Limit, burst int) *KernelChannelServer {
	srv := &KernelChannelServer{
		handler:        handler,
		maxMessageSize: maxMessageSize,
		messageRate:    messageRate,
		burst:          burst,
		sessions:       make(map[*Session]struct{}),
	}
	config.InitLogger(&srv.log, srv)

	return srv
}

// ParseChannelsPath extracts the kernel id from /api/kernels/<id>/channels.
func ParseChannelsPath(path string) (string, bool) {
	if !strings.HasPrefix(path, channelsPathPrefix) || !strings.HasSuffix(path, "/channels") {
		return "", false
	}

	kernelID := strings.TrimSuffix(strings.TrimPrefix(path, channelsPathPrefix), "/channels")
	if kernelID == "" || strings.Contains(kernelID, "/") {
		return "", false
	}

	return kernelID, true
}

func (s *KernelChannelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kernelID, ok := ParseChannelsPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.log.Error("Failed to accept websocket connection because: %v", err)
		return
	}
	defer c.CloseNow()

	if s.maxMessageSize > 0 {
		c.SetReadLimit(s.maxMessageSize)
	}

	session := &Session{
		KernelID: kernelID,
		ClientID: r.URL.Query().Get("session_id"),
		conn:     c,
	}

	s.mu.Lock()
	s.sessions[session] = struct{}{}
	s.mu.Unlock()

	s.handler.OnOpen(session)

	err = s.serveSession(r.Context(), session)

	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()

	session.mu.Lock()
	session.closed = true
	session.mu.Unlock()

	s.handler.OnClose(session, err)
}

func (s *KernelChannelServer) serveSession(ctx context.Context, session *Session) error {
	l := rate.NewLimiter(s.messageRate, s.burst)
	for {
		err := s.handleMessage(ctx, session, l)

		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil
		}

		if err != nil {
			s.log.Debug("Session of client %s with kernel %s ended: %v", session.ClientID, session.KernelID, err)
			return err
		}
	}
}

func (s *KernelChannelServer) handleMessage(ctx context.Context, session *Session, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}

	typ, data, err := session.conn.Read(ctx)
	if err != nil {
		return err
	}

	msg, err := messaging.Deserialize(data, typ == websocket.MessageBinary)
	if err != nil {
		s.log.Warn("Dropping undecodable frame from client %s: %v", session.ClientID, err)
		return nil
	}

	s.log.Debug("Received \"%s\" message %s on %s.", msg.Header.MsgType, msg.Header.MsgID, msg.Channel)
	s.handler.HandleMessage(ctx, session, msg)

	return nil
}

// Sessions returns the sessions that are currently open.
func (s *KernelChannelServer) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// DropAll closes the connection of every open session without a closing handshake.
func (s *KernelChannelServer) DropAll() error {
	var errs []error
	for _, session := range s.Sessions() {
		if err := session.Drop(); err != nil {
			errs = append(errs, fmt.Errorf("session of client %s: %w", session.ClientID, err))
		}
	}
	return errors.Join(errs...)
}
