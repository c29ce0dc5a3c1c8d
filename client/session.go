// Package client is the Go client for the marketplace chat API. A
// Session owns one open conversation with a peer: it resolves the
// conversation, loads history, subscribes for realtime pushes and
// sends messages optimistically.
package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mfenwick/go-marketplace/internal/types"
)

type State int

const (
	StateResolving State = iota
	StateLoading
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Resolver maps a peer account id to the single conversation shared
// with that peer, creating it if it does not exist yet. Resolving the
// same pair from either side yields the same conversation.
type Resolver interface {
	ResolveConversation(ctx context.Context, peerId int) (types.Conversation, error)
}

// History loads stored messages in ascending created-at order. A zero
// limit means the transport default.
type History interface {
	ConversationMessages(ctx context.Context, conversationId string, limit int) ([]types.Message, error)
}

// Feed delivers realtime messages for a conversation. The returned
// release func stops delivery; it must be safe to call once.
type Feed interface {
	Subscribe(ctx context.Context, conversationId string, onMessage func(types.Message)) (func() error, error)
}

// Sender performs the authoritative write and returns the confirmed
// message with its final id and server timestamp.
type Sender interface {
	SendMessage(ctx context.Context, conversationId, body string) (types.Message, error)
}

type Session struct {
	user   types.User
	peerId int

	resolver Resolver
	history  History
	feed     Feed
	sender   Sender

	log      *log.Logger
	onChange func()

	mu           sync.Mutex
	state        State
	conversation types.Conversation
	messages     []types.Message
	seen         map[string]struct{}
	unsubscribe  func() error

	// overridable in tests
	newTempId func() string
}

// NewSession prepares a session for the conversation between user and
// peerId. The identity is explicit: nothing here reads ambient login
// state. onChange fires after every visible change to the message list
// or session state; it may be nil.
func NewSession(logger *log.Logger, user types.User, peerId int, resolver Resolver, history History, feed Feed, sender Sender, onChange func()) *Session {
	if onChange == nil {
		onChange = func() {}
	}

	return &Session{
		user:      user,
		peerId:    peerId,
		resolver:  resolver,
		history:   history,
		feed:      feed,
		sender:    sender,
		log:       logger,
		onChange:  onChange,
		state:     StateResolving,
		seen:      make(map[string]struct{}),
		newTempId: func() string { return "temp-" + uuid.NewString() },
	}
}

// Open resolves the conversation, subscribes to the feed and loads
// history. A failed Open leaves the session where it stalled, in
// Resolving or Loading, and may be called again to pick up from there;
// there is no automatic retry. The subscription is taken before
// history is fetched so nothing published in between is missed; the
// overlap is removed by id.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateLive:
		s.mu.Unlock()
		return fmt.Errorf("session already live")
	case StateClosed:
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	needResolve := s.state == StateResolving
	s.mu.Unlock()

	if needResolve {
		conv, err := s.resolver.ResolveConversation(ctx, s.peerId)
		if err != nil {
			return fmt.Errorf("resolve conversation with peer %d: %w", s.peerId, err)
		}

		s.mu.Lock()
		s.conversation = conv
		s.state = StateLoading
		s.mu.Unlock()
		s.onChange()
	}

	s.mu.Lock()
	conv := s.conversation
	subscribed := s.unsubscribe != nil
	s.mu.Unlock()

	if !subscribed {
		release, err := s.feed.Subscribe(ctx, conv.ExternalId, s.handleFeedMessage)
		if err != nil {
			return fmt.Errorf("subscribe to conversation %q: %w", conv.ExternalId, err)
		}

		s.mu.Lock()
		s.unsubscribe = release
		s.mu.Unlock()
	}

	msgs, err := s.history.ConversationMessages(ctx, conv.ExternalId, 0)
	if err != nil {
		// the subscription stays up; live messages keep arriving while
		// the caller decides whether to retry
		return fmt.Errorf("load history for conversation %q: %w", conv.ExternalId, err)
	}

	s.mu.Lock()
	// history comes first, then anything the feed delivered while the
	// history call was in flight
	buffered := s.messages
	s.messages = make([]types.Message, 0, len(msgs)+len(buffered))
	merged := make(map[string]struct{}, len(msgs)+len(buffered))
	for _, m := range msgs {
		if _, ok := merged[m.Id]; ok {
			continue
		}
		merged[m.Id] = struct{}{}
		s.messages = append(s.messages, m)
	}
	for _, m := range buffered {
		if _, ok := merged[m.Id]; ok {
			continue
		}
		merged[m.Id] = struct{}{}
		s.messages = append(s.messages, m)
	}
	s.seen = merged
	s.state = StateLive
	s.mu.Unlock()
	s.onChange()

	return nil
}

func (s *Session) handleFeedMessage(msg types.Message) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.seen[msg.Id]; ok {
		s.mu.Unlock()
		return
	}
	s.seen[msg.Id] = struct{}{}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.onChange()
}

// Send appends the message locally before the write completes. On
// confirmation the placeholder is replaced in place by the server's
// record, so the message does not jump positions; on failure it is
// removed and the error returned. The confirmed id is marked seen, so
// the feed echo of our own message is not appended a second time.
func (s *Session) Send(ctx context.Context, body string) (types.Message, error) {
	s.mu.Lock()
	if s.state != StateLive {
		st := s.state
		s.mu.Unlock()
		return types.Message{}, fmt.Errorf("cannot send in state %s", st)
	}

	temp := types.Message{
		Id:             s.newTempId(),
		ConversationId: s.conversation.ExternalId,
		SenderId:       s.user.Id,
		SenderName:     s.user.Username,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages = append(s.messages, temp)
	conversationId := s.conversation.ExternalId
	s.mu.Unlock()
	s.onChange()

	confirmed, err := s.sender.SendMessage(ctx, conversationId, body)

	s.mu.Lock()
	idx := s.indexOf(temp.Id)
	if err != nil {
		if idx >= 0 {
			s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
		}
		s.mu.Unlock()
		s.onChange()
		return types.Message{}, fmt.Errorf("send message: %w", err)
	}

	if _, echoed := s.seen[confirmed.Id]; echoed {
		// the feed delivered the confirmed record before the write
		// returned; the placeholder is now redundant
		if idx >= 0 {
			s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
		}
	} else {
		s.seen[confirmed.Id] = struct{}{}
		if idx >= 0 {
			s.messages[idx] = confirmed
		} else {
			s.messages = append(s.messages, confirmed)
		}
	}
	s.mu.Unlock()
	s.onChange()

	return confirmed, nil
}

func (s *Session) indexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].Id == id {
			return i
		}
	}
	return -1
}

// Close releases the feed subscription and marks the session closed.
// Idempotent; messages received after close are discarded.
func (s *Session) Close() error {
	unsub := s.close()
	if unsub != nil {
		return unsub()
	}
	return nil
}

func (s *Session) close() func() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	s.onChange()
	return unsub
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Conversation() types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

// Peer returns the other participant once the conversation is resolved.
func (s *Session) Peer() types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation.Peer(s.user.Id)
}

// Messages returns a copy of the current view, oldest first.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
