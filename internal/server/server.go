package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mfenwick/go-marketplace/internal/database"
	"github.com/mfenwick/go-marketplace/internal/stats"
	"github.com/mfenwick/go-marketplace/internal/types"
)

const (
	MetricActiveClients       = "ActiveClients"
	MetricActiveConversations = "ActiveConversations"
	MetricMessagesBroadcast   = "MessagesBroadcast"
)

type publishReq struct {
	conversationId string
	msg            types.Message
}

// ChatServer fans saved messages out to the websocket clients attached
// to each conversation. Conversations are loaded on first join and
// unloaded after an idle timeout.
type ChatServer struct {
	log            *log.Logger
	db             database.MarketRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadChan     chan string
	publishChan    chan *publishReq
	conversations  map[string]*Conversation
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.MarketRepository, sp stats.StatsProvider) (*ChatServer, error) {
	sp.RegisterMetric(MetricActiveClients)
	sp.RegisterMetric(MetricActiveConversations)
	sp.RegisterMetric(MetricMessagesBroadcast)

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		joinChan:       make(chan *ClientMessage),
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadChan:     make(chan string),
		publishChan:    make(chan *publishReq, 256),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		conversations:  make(map[string]*Conversation),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			if conv, ok := cs.conversations[joinMsg.Join.ConversationId]; ok {
				select {
				case conv.joinChan <- joinMsg:
				default:
					cs.log.Printf("join channel full on conversation %q", conv.externalId)
					joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
				}
			} else {
				conv, err := cs.loadConversation(joinMsg.Join.ConversationId)
				if err != nil {
					joinMsg.client.queueMessage(ErrConversationNotFound(joinMsg.Id))
					continue
				}

				conv.joinChan <- joinMsg
			}
		case req := <-cs.publishChan:
			conv, ok := cs.conversations[req.conversationId]
			if !ok {
				// no live clients for this conversation, nothing to fan out
				continue
			}

			select {
			case conv.messageChan <- req.msg:
			default:
				cs.log.Printf("message channel full on conversation %q", conv.externalId)
			}
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.user.Username)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.user.Username)
			cs.removeClient(client)
		case id := <-cs.unloadChan:
			conv, ok := cs.conversations[id]
			if ok {
				cs.unloadConversation(conv.externalId)
				done := make(chan bool)
				conv.exit <- exitReq{done: done}
				<-done
			}
		case <-cs.stop:
			cs.log.Println("shutting down conversations")
			for _, conv := range cs.conversations {
				cs.log.Println("shutting down conversation", conv.externalId)
				close(conv.exit)
				<-conv.done
			}

			close(cs.done)
			return
		}
	}
}

// PublishMessage hands a saved message to the run loop for broadcast to
// any clients currently attached to its conversation. Best effort: the
// message is already durable by the time this is called.
func (cs *ChatServer) PublishMessage(conversationId string, msg types.Message) error {
	select {
	case cs.publishChan <- &publishReq{conversationId: conversationId, msg: msg}:
		return nil
	case <-cs.done:
		return fmt.Errorf("chat server is shut down")
	default:
		return fmt.Errorf("publish queue full")
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) loadConversation(externalId string) (*Conversation, error) {
	dbConv, err := cs.db.GetConversationByExternalId(externalId)
	if err != nil {
		return nil, fmt.Errorf("get conversation %q: %w", externalId, err)
	}

	conv := &Conversation{
		id:         dbConv.Id,
		externalId: dbConv.ExternalId,
		participants: [2]types.User{
			{Id: dbConv.UserA, Username: dbConv.UserAName},
			{Id: dbConv.UserB, Username: dbConv.UserBName},
		},
		cs:          cs,
		joinChan:    make(chan *ClientMessage, 256),
		leaveChan:   make(chan *ClientMessage, 256),
		messageChan: make(chan types.Message, 256),
		clients:     make(map[*Client]struct{}),
		userMap:     make(map[int]map[*Client]struct{}),
		log:         cs.log,
		exit:        make(chan exitReq),
		done:        make(chan struct{}),
	}

	cs.conversations[conv.externalId] = conv
	cs.stats.Incr(MetricActiveConversations)

	go conv.start()

	return conv, nil
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr(MetricActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(MetricActiveClients)
	}
}

func (cs *ChatServer) unloadConversation(externalId string) {
	if conv, ok := cs.conversations[externalId]; ok {
		cs.log.Printf("removing conversation %q", conv.externalId)
		delete(cs.conversations, externalId)
		cs.stats.Decr(MetricActiveConversations)
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		close(c.stop)
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
