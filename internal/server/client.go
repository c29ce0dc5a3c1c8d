package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mfenwick/go-marketplace/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

type Client struct {
	conn              *websocket.Conn
	chatServer        *ChatServer
	log               *log.Logger
	user              types.User
	send              chan *ServerMessage
	conversations     map[string]*Conversation
	conversationsLock sync.RWMutex
	stop              chan struct{}
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:          conn,
		chatServer:    cs,
		log:           l,
		user:          user,
		send:          make(chan *ServerMessage, 256),
		conversations: make(map[string]*Conversation),
		stop:          make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		switch {
		case msg.Join != nil:
			c.joinConversation(&msg)
		case msg.Leave != nil:
			c.leaveConversation(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	close(c.stop)
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterChan <- c
	c.leaveAllConversations()
	c.stopClient()
}

func (c *Client) leaveAllConversations() {
	// snapshot under the lock, send after releasing it: handleLeave ends
	// in delConversation, which needs the write lock on the same mutex
	c.conversationsLock.RLock()
	convs := make([]*Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		convs = append(convs, conv)
	}
	c.conversationsLock.RUnlock()

	for _, conv := range convs {
		conv.leaveChan <- &ClientMessage{
			Leave:  &Leave{ConversationId: conv.externalId},
			UserId: c.user.Id,
			client: c,
		}
	}
}

func (c *Client) joinConversation(msg *ClientMessage) {
	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveConversation(msg *ClientMessage) {
	conv := c.getConversation(msg.Leave.ConversationId)
	if conv == nil {
		c.queueMessage(ErrConversationNotFound(msg.Id))
		return
	}

	select {
	case conv.leaveChan <- msg:
	default:
		c.log.Printf("leaveChan full for conversation %q", conv.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) delConversation(id string) {
	c.conversationsLock.Lock()
	defer c.conversationsLock.Unlock()

	delete(c.conversations, id)
}

func (c *Client) addConversation(conv *Conversation) {
	c.conversationsLock.Lock()
	defer c.conversationsLock.Unlock()

	c.conversations[conv.externalId] = conv
}

func (c *Client) getConversation(id string) *Conversation {
	c.conversationsLock.RLock()
	defer c.conversationsLock.RUnlock()

	if conv, ok := c.conversations[id]; ok {
		return conv
	}

	return nil
}
