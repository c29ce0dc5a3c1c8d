package database

type MarketRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateService(params CreateServiceParams) (Service, error)
	GetServiceByExternalId(externalId string) (Service, error)
	ListServices(category string, limit int) ([]Service, error)
	DeleteService(id int) error
	CreateComment(params CreateCommentParams) (Comment, error)
	GetCommentByExternalId(externalId string) (Comment, error)
	GetCommentsByServiceId(serviceId int) ([]Comment, error)
	GetOrCreateConversation(userA, userB int, externalId string) (Conversation, error)
	GetConversationByExternalId(externalId string) (Conversation, error)
	ListConversations(accountId int) ([]Conversation, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetConversationMessages(conversationId int) ([]Message, error)
	GetMessages(conversationId, since, before, limit int) ([]Message, error)
}
