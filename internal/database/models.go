package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Service struct {
	Id           int
	ExternalId   string
	Title        string
	Description  string
	Category     string
	RateCents    int
	ProviderId   int
	ProviderName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Comment struct {
	Id         int
	ExternalId string
	ServiceId  int
	AuthorId   int
	AuthorName string
	// ParentId is the parent row id, zero for top-level comments.
	// ParentExternalId carries the joined external id for API use.
	ParentId         int
	ParentExternalId string
	Content          string
	CreatedAt        time.Time
}

type Conversation struct {
	Id            int
	ExternalId    string
	UserA         int
	UserAName     string
	UserB         int
	UserBName     string
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Message struct {
	Id             int
	ExternalId     string
	ConversationId int
	SenderId       int
	SenderName     string
	Body           string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateServiceParams struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	RateCents   int    `json:"rate_cents"`
	ProviderId  int    `json:"-"`
	ExternalId  string `json:"external_id"`
}

type CreateCommentParams struct {
	ServiceId  int
	AuthorId   int
	ParentId   int
	Content    string
	ExternalId string
}

type CreateMessageParams struct {
	ConversationId int
	SenderId       int
	Body           string
	ExternalId     string
	CreatedAt      time.Time
}
