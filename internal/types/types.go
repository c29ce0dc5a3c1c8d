package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Service struct {
	Id          int       `json:"-"`
	ExternalId  string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	RateCents   int       `json:"rate_cents"`
	ProviderId  int       `json:"provider_id"`
	Provider    string    `json:"provider,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Comment is a service review comment. Replies is populated only after
// the flat batch has been structured into a forest.
type Comment struct {
	Id         string     `json:"id"`
	ServiceId  string     `json:"service_id"`
	Content    string     `json:"content"`
	AuthorId   int        `json:"author_id"`
	AuthorName string     `json:"author_name"`
	ParentId   string     `json:"parent_id,omitempty"`
	Replies    []*Comment `json:"replies"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// Conversation is a two-party chat room. Participants are stored in
// canonical order, lower account id first.
type Conversation struct {
	Id            int       `json:"-"`
	ExternalId    string    `json:"id"`
	UserA         User      `json:"user_a"`
	UserB         User      `json:"user_b"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Peer returns the participant other than userId.
func (c Conversation) Peer(userId int) User {
	if c.UserA.Id == userId {
		return c.UserB
	}
	return c.UserA
}

type Message struct {
	Id             string    `json:"id"`
	ConversationId string    `json:"conversation_id"`
	SenderId       int       `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}
