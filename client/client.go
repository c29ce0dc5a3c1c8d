package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mfenwick/go-marketplace/internal/server"
	"github.com/mfenwick/go-marketplace/internal/types"
)

const (
	requestTimeout = 10 * time.Second
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// MarketClient talks to a marketplace server over its REST API and
// websocket feed. The cookie jar is shared between both, so a Login
// authenticates the websocket dial as well.
type MarketClient struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        *log.Logger

	user types.User

	connMu sync.Mutex
	conn   *websocket.Conn
	send   chan *server.ClientMessage
	done   chan struct{}

	handlerMu sync.RWMutex
	handlers  map[string]func(types.Message)
}

func NewMarketClient(baseURL string, logger *log.Logger) (*MarketClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &MarketClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		},
		dialer: &websocket.Dialer{
			Jar:              jar,
			HandshakeTimeout: requestTimeout,
		},
		log:      logger,
		handlers: make(map[string]func(types.Message)),
	}, nil
}

type apiErrorBody struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (c *MarketClient) doJson(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *MarketClient) Register(ctx context.Context, username, email, password string) (types.User, error) {
	var u types.User
	err := c.doJson(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &u)

	return u, err
}

// Login authenticates and remembers the session user for subsequent
// OpenSession calls.
func (c *MarketClient) Login(ctx context.Context, email, password string) (types.User, error) {
	var u types.User
	err := c.doJson(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &u)
	if err != nil {
		return types.User{}, err
	}

	c.user = u
	return u, nil
}

func (c *MarketClient) Logout(ctx context.Context) error {
	if err := c.doJson(ctx, http.MethodGet, "/api/auth/logout", nil, nil); err != nil {
		return err
	}

	c.user = types.User{}
	return nil
}

func (c *MarketClient) Services(ctx context.Context, category string, limit int) ([]types.Service, error) {
	path := "/api/services"
	var params []string
	if category != "" {
		params = append(params, "category="+category)
	}
	if limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", limit))
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}

	var services []types.Service
	err := c.doJson(ctx, http.MethodGet, path, nil, &services)
	return services, err
}

// Comments returns the threaded comment forest for a service.
func (c *MarketClient) Comments(ctx context.Context, serviceId string) ([]*types.Comment, error) {
	var forest []*types.Comment
	err := c.doJson(ctx, http.MethodGet, "/api/comments?service_id="+serviceId, nil, &forest)
	return forest, err
}

// PostComment creates a comment on a service. A non-empty parentId
// makes it a reply.
func (c *MarketClient) PostComment(ctx context.Context, serviceId, parentId, content string) (types.Comment, error) {
	var comment types.Comment
	err := c.doJson(ctx, http.MethodPost, "/api/comments", map[string]string{
		"service_id": serviceId,
		"parent_id":  parentId,
		"content":    content,
	}, &comment)

	return comment, err
}

func (c *MarketClient) ResolveConversation(ctx context.Context, peerId int) (types.Conversation, error) {
	var conv types.Conversation
	err := c.doJson(ctx, http.MethodPost, "/api/conversations", map[string]int{
		"peer_id": peerId,
	}, &conv)

	return conv, err
}

func (c *MarketClient) Conversations(ctx context.Context) ([]types.Conversation, error) {
	var convs []types.Conversation
	err := c.doJson(ctx, http.MethodGet, "/api/conversations", nil, &convs)
	return convs, err
}

// ConversationMessages loads history in ascending order. A limit of
// zero or less omits the window params, which the server answers with
// the full history.
func (c *MarketClient) ConversationMessages(ctx context.Context, conversationId string, limit int) ([]types.Message, error) {
	path := "/api/messages?conversation_id=" + conversationId
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}

	var messages []types.Message
	err := c.doJson(ctx, http.MethodGet, path, nil, &messages)
	return messages, err
}

func (c *MarketClient) SendMessage(ctx context.Context, conversationId, body string) (types.Message, error) {
	var msg types.Message
	err := c.doJson(ctx, http.MethodPost, "/api/messages", map[string]string{
		"conversation_id": conversationId,
		"body":            body,
	}, &msg)

	return msg, err
}

// Connect dials the websocket feed. Login must have happened first so
// the session cookie rides along on the handshake.
func (c *MarketClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws"
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.conn = conn
	c.send = make(chan *server.ClientMessage, 256)
	c.done = make(chan struct{})

	go c.writePump(conn, c.send, c.done)
	go c.readPump(conn, c.done)

	return nil
}

// Disconnect closes the websocket. Sessions keep their message views
// but stop receiving pushes.
func (c *MarketClient) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}

	close(c.done)
	c.conn.Close()
	c.conn = nil
}

func (c *MarketClient) writePump(conn *websocket.Conn, send chan *server.ClientMessage, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.log.Printf("write: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *MarketClient) readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		var sm server.ServerMessage
		if err := conn.ReadJSON(&sm); err != nil {
			select {
			case <-done:
			default:
				c.log.Printf("read: %v", err)
			}
			return
		}

		switch {
		case sm.Message != nil:
			c.handlerMu.RLock()
			handler := c.handlers[sm.Message.ConversationId]
			c.handlerMu.RUnlock()
			if handler != nil {
				handler(*sm.Message)
			}
		case sm.Response != nil && sm.Response.Error != "":
			c.log.Printf("server error %d: %s", sm.Response.ResponseCode, sm.Response.Error)
		}
	}
}

func (c *MarketClient) enqueue(msg *server.ClientMessage) error {
	c.connMu.Lock()
	send, done := c.send, c.done
	c.connMu.Unlock()

	if send == nil {
		return fmt.Errorf("not connected")
	}

	select {
	case send <- msg:
		return nil
	case <-done:
		return fmt.Errorf("connection closed")
	}
}

// Subscribe joins a conversation and routes its pushed messages to
// onMessage. The returned release func leaves the conversation.
func (c *MarketClient) Subscribe(ctx context.Context, conversationId string, onMessage func(types.Message)) (func() error, error) {
	c.handlerMu.Lock()
	if _, ok := c.handlers[conversationId]; ok {
		c.handlerMu.Unlock()
		return nil, fmt.Errorf("already subscribed to conversation %q", conversationId)
	}
	c.handlers[conversationId] = onMessage
	c.handlerMu.Unlock()

	err := c.enqueue(&server.ClientMessage{
		Join: &server.Join{ConversationId: conversationId},
	})
	if err != nil {
		c.handlerMu.Lock()
		delete(c.handlers, conversationId)
		c.handlerMu.Unlock()
		return nil, err
	}

	release := func() error {
		c.handlerMu.Lock()
		delete(c.handlers, conversationId)
		c.handlerMu.Unlock()

		return c.enqueue(&server.ClientMessage{
			Leave: &server.Leave{ConversationId: conversationId},
		})
	}

	return release, nil
}

// OpenSession resolves, loads and subscribes a chat session with
// peerId using this client for every collaborator. Requires a prior
// Login and Connect.
func (c *MarketClient) OpenSession(ctx context.Context, peerId int, onChange func()) (*Session, error) {
	if c.user.Id == 0 {
		return nil, fmt.Errorf("login required before opening a session")
	}

	sess := NewSession(c.log, c.user, peerId, c, c, c, c, onChange)
	if err := sess.Open(ctx); err != nil {
		return nil, err
	}

	return sess, nil
}
