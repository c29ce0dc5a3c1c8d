package server

import (
	"log"
	"sync"
	"time"

	"github.com/mfenwick/go-marketplace/internal/types"
)

const idleConversationTimeout = time.Minute

type exitReq struct {
	done chan bool
}

// Conversation is the in-memory fan-out state for a loaded two-party
// chat. Only the two participants may attach clients; a user may hold
// several concurrent connections (tabs).
type Conversation struct {
	id           int
	externalId   string
	participants [2]types.User
	cs           *ChatServer
	joinChan     chan *ClientMessage
	leaveChan    chan *ClientMessage
	messageChan  chan types.Message
	clients      map[*Client]struct{}
	userMap      map[int]map[*Client]struct{}
	clientLock   sync.RWMutex
	log          *log.Logger
	// killTimer unloads the conversation once no clients remain
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func (cv *Conversation) start() {
	cv.log.Printf("starting conversation %q", cv.externalId)
	cv.killTimer = time.NewTimer(idleConversationTimeout)
	cv.killTimer.Stop()

	for {
		select {
		case join := <-cv.joinChan:
			cv.handleJoin(join)
		case leaveMsg := <-cv.leaveChan:
			cv.handleLeave(leaveMsg)
		case msg := <-cv.messageChan:
			cv.broadcastMessage(msg)
		case <-cv.killTimer.C:
			cv.handleTimeout()
		case e, ok := <-cv.exit:
			cv.handleExit(e, ok)
			return
		}
	}
}

func (cv *Conversation) isParticipant(userId int) bool {
	return cv.participants[0].Id == userId || cv.participants[1].Id == userId
}

func (cv *Conversation) handleTimeout() {
	cv.log.Printf("conversation %q timed out", cv.externalId)
	cv.cs.unloadChan <- cv.externalId
}

func (cv *Conversation) handleExit(e exitReq, ok bool) {
	cv.log.Printf("conversation %q is exiting", cv.externalId)

	cv.clientLock.Lock()
	for c := range cv.clients {
		c.delConversation(cv.externalId)
	}
	cv.clientLock.Unlock()

	close(cv.done)

	if ok && e.done != nil {
		e.done <- true
	}
}

func (cv *Conversation) handleJoin(join *ClientMessage) {
	c := join.client
	if !cv.isParticipant(c.user.Id) {
		cv.log.Printf("rejecting join from %q: not a participant in %q", c.user.Username, cv.externalId)
		c.queueMessage(ErrNotParticipant(join.Id))
		if len(cv.clients) == 0 {
			cv.killTimer.Reset(idleConversationTimeout)
		}
		return
	}

	cv.killTimer.Stop()
	cv.addClient(c)

	peer := cv.participants[0]
	if peer.Id == c.user.Id {
		peer = cv.participants[1]
	}

	c.queueMessage(NoErrOK(join.Id, map[string]any{
		"conversation_id": cv.externalId,
		"peer":            peer,
		"peer_present":    cv.userPresent(peer.Id),
	}))

	// tell the other side this user is online
	cv.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Presence: &Presence{
				Present:        true,
				UserId:         c.user.Id,
				ConversationId: cv.externalId,
			},
		},
		SkipClient: c,
	})
}

func (cv *Conversation) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client
	cv.removeClient(client)

	if leaveMsg.GetUserId() != 0 {
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	// announce offline only when the user's last connection is gone
	if !cv.userPresent(client.user.Id) {
		cv.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				Presence: &Presence{
					Present:        false,
					UserId:         client.user.Id,
					ConversationId: cv.externalId,
				},
			},
			SkipClient: client,
		})
	}
}

func (cv *Conversation) userPresent(userId int) bool {
	cv.clientLock.RLock()
	defer cv.clientLock.RUnlock()
	return cv.userMap[userId] != nil
}

func (cv *Conversation) addClient(c *Client) {
	cv.clientLock.Lock()
	defer cv.clientLock.Unlock()

	cv.clients[c] = struct{}{}
	if cv.userMap[c.user.Id] == nil {
		cv.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cv.userMap[c.user.Id][c] = struct{}{}

	c.addConversation(cv)
}

func (cv *Conversation) removeClient(c *Client) {
	cv.clientLock.Lock()
	defer cv.clientLock.Unlock()

	if _, ok := cv.clients[c]; !ok {
		cv.log.Printf("client %q not found in conversation %q", c.user.Username, cv.externalId)
		return
	}

	delete(cv.clients, c)
	c.delConversation(cv.externalId)

	if userClients, ok := cv.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cv.userMap, c.user.Id)
		}
	}

	if len(cv.clients) == 0 {
		cv.log.Printf("no clients in %q, starting kill timer", cv.externalId)
		cv.killTimer.Reset(idleConversationTimeout)
	}
}

// broadcastMessage delivers an already-persisted message to every
// attached client, including the sender's own connections. The sender's
// local echo carries a different temporary id, so clients de-duplicate
// by the final id.
func (cv *Conversation) broadcastMessage(msg types.Message) {
	cv.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: msg.CreatedAt,
		},
		Message: &msg,
	})

	cv.cs.stats.Incr(MetricMessagesBroadcast)
}

func (cv *Conversation) broadcast(msg *ServerMessage) {
	cv.clientLock.RLock()
	defer cv.clientLock.RUnlock()

	for client := range cv.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
