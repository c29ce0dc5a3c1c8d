package database

import (
	"github.com/stretchr/testify/mock"
)

type MockMarketRepository struct {
	mock.Mock
}

func (m *MockMarketRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockMarketRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMarketRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMarketRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMarketRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMarketRepository) CreateService(params CreateServiceParams) (Service, error) {
	args := m.Called(params)
	return args.Get(0).(Service), args.Error(1)
}
func (m *MockMarketRepository) GetServiceByExternalId(externalId string) (Service, error) {
	args := m.Called(externalId)
	return args.Get(0).(Service), args.Error(1)
}
func (m *MockMarketRepository) ListServices(category string, limit int) ([]Service, error) {
	args := m.Called(category, limit)
	return args.Get(0).([]Service), args.Error(1)
}
func (m *MockMarketRepository) DeleteService(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockMarketRepository) CreateComment(params CreateCommentParams) (Comment, error) {
	args := m.Called(params)
	return args.Get(0).(Comment), args.Error(1)
}
func (m *MockMarketRepository) GetCommentByExternalId(externalId string) (Comment, error) {
	args := m.Called(externalId)
	return args.Get(0).(Comment), args.Error(1)
}
func (m *MockMarketRepository) GetCommentsByServiceId(serviceId int) ([]Comment, error) {
	args := m.Called(serviceId)
	return args.Get(0).([]Comment), args.Error(1)
}
func (m *MockMarketRepository) GetOrCreateConversation(userA, userB int, externalId string) (Conversation, error) {
	args := m.Called(userA, userB, externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockMarketRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	args := m.Called(externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockMarketRepository) ListConversations(accountId int) ([]Conversation, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockMarketRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMarketRepository) GetConversationMessages(conversationId int) ([]Message, error) {
	args := m.Called(conversationId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockMarketRepository) GetMessages(conversationId, since, before, limit int) ([]Message, error) {
	args := m.Called(conversationId, since, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
