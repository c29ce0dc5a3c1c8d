package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/mfenwick/go-marketplace/internal/config"
	"github.com/mfenwick/go-marketplace/internal/database"
	"github.com/mfenwick/go-marketplace/internal/server"
	"github.com/mfenwick/go-marketplace/internal/stats"
	"github.com/mfenwick/go-marketplace/internal/testutil"
	"github.com/mfenwick/go-marketplace/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testShortId = "EoGKUXPHgz"

func newTestApp(t *testing.T, mockRepo database.MarketRepository) *MarketApp {
	t.Helper()

	app := NewMarketApp(http.NewServeMux(), testutil.TestLogger(t), nil, mockRepo, &config.Config{
		SigningKey: []byte("test-signing-key"),
	})
	app.generateShortId = func() (string, error) {
		return testShortId, nil
	}

	return app
}

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	if s, ok := v.(string); ok {
		buf.WriteString(s)
		return buf
	}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func Test_healthCheck(t *testing.T) {
	mockRepo := &database.MockMarketRepository{}
	defer mockRepo.AssertExpectations(t)

	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo.On("Ping").Return(tc.mockErr).Once()
			app := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	expectedUser := database.User{
		Id:           1,
		Username:     "newuser",
		EmailAddress: "newuser@example.com",
		PasswordHash: "hashedpassword",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	tcases := []struct {
		name           string
		body           any
		mockUser       database.User
		mockErr        error
		expectCreate   bool
		expectedStatus int
	}{
		{
			name: "successfully creates a new account",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockUser:       expectedUser,
			expectCreate:   true,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "fails with invalid json body",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "fails with missing username",
			body: RegisterRequest{
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "fails with duplicate email",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockErr:        &pq.Error{Code: "23505"},
			expectCreate:   true,
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockMarketRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.expectCreate {
				mockRepo.On("CreateAccount", mock.AnythingOfType("database.CreateAccountParams")).
					Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, tc.body))
			app.createAccount(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")

			if tc.expectedStatus == http.StatusCreated {
				var u types.User
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
				assert.Equal(t, expectedUser.Id, u.Id, "expected user id to match")
				assert.Equal(t, expectedUser.Username, u.Username, "expected username to match")
				assert.Equal(t, expectedUser.EmailAddress, u.EmailAddress, "expected email to match")
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	passwordHash, err := hashPassword("password")
	require.NoError(t, err)

	dbUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
		PasswordHash: passwordHash,
	}

	tcases := []struct {
		name           string
		body           any
		mockErr        error
		expectLookup   bool
		expectedStatus int
		expectCookie   bool
	}{
		{
			name: "successful login sets session cookie",
			body: LoginRequest{
				Email:    dbUser.EmailAddress,
				Password: "password",
			},
			expectLookup:   true,
			expectedStatus: http.StatusOK,
			expectCookie:   true,
		},
		{
			name: "fails with wrong password",
			body: LoginRequest{
				Email:    dbUser.EmailAddress,
				Password: "wrong",
			},
			expectLookup:   true,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "fails with unknown email",
			body: LoginRequest{
				Email:    "nobody@example.com",
				Password: "password",
			},
			mockErr:        sql.ErrNoRows,
			expectLookup:   true,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "fails with missing credentials",
			body:           LoginRequest{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockMarketRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.expectLookup {
				mockRepo.On("GetAccountByEmail", mock.AnythingOfType("string")).
					Return(dbUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, tc.body))
			app.login(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")

			token := findCookie(rr, tokenCookieKey)
			if tc.expectCookie {
				require.NotNil(t, token, "expected session cookie to be set")
				assert.NotEmpty(t, token.Value, "expected session cookie to carry a token")
				assert.WithinDuration(t, time.Now().Add(defaultJwtExpiration), token.Expires, time.Second, "expected token expiration to be set correctly")
			} else {
				assert.Nil(t, token, "expected no session cookie")
			}
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	app := newTestApp(t, &database.MockMarketRepository{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	app.logout(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code, "expected status code to be 204")
	token := findCookie(rr, tokenCookieKey)
	require.NotNil(t, token, "expected cookie to be rewritten")
	assert.Empty(t, token.Value, "expected cookie value to be cleared")
	assert.True(t, token.Expires.Before(time.Now()), "expected cookie to be expired")
}

func TestSessionHandler(t *testing.T) {
	dbUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
	}

	t.Run("returns the current user", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", dbUser.Id).Return(dbUser, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		ctx := WithUserId(req.Context(), dbUser.Id)
		app.session(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		var u types.User
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
		assert.Equal(t, dbUser.Username, u.Username, "expected username to match")
	})

	t.Run("fails without identity in context", func(t *testing.T) {
		app := newTestApp(t, &database.MockMarketRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		app.session(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})
}

func TestCreateServiceHandler(t *testing.T) {
	expectedService := database.Service{
		Id:          1,
		ExternalId:  testShortId,
		Title:       "Lawn mowing",
		Description: "Weekly mowing and edging",
		Category:    "yard",
		RateCents:   4500,
		ProviderId:  1,
	}

	tcases := []struct {
		name           string
		body           any
		userId         int
		expectCreate   bool
		expectedStatus int
	}{
		{
			name: "successfully creates a service",
			body: CreateServiceRequest{
				Title:       expectedService.Title,
				Description: expectedService.Description,
				Category:    expectedService.Category,
				RateCents:   expectedService.RateCents,
			},
			userId:         1,
			expectCreate:   true,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "fails with empty title",
			body:           CreateServiceRequest{RateCents: 4500},
			userId:         1,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "fails with negative rate",
			body: CreateServiceRequest{
				Title:     expectedService.Title,
				RateCents: -1,
			},
			userId:         1,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "fails without identity in context",
			body: CreateServiceRequest{
				Title: expectedService.Title,
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockMarketRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.expectCreate {
				mockRepo.On("CreateService", database.CreateServiceParams{
					Title:       expectedService.Title,
					Description: expectedService.Description,
					Category:    expectedService.Category,
					RateCents:   expectedService.RateCents,
					ProviderId:  tc.userId,
					ExternalId:  testShortId,
				}).Return(expectedService, nil).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/services", jsonBody(t, tc.body))
			if tc.userId != 0 {
				ctx := WithUserId(req.Context(), tc.userId)
				req = req.WithContext(ctx)
			}
			app.createService(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")

			if tc.expectedStatus == http.StatusCreated {
				var svc types.Service
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&svc))
				assert.Equal(t, testShortId, svc.ExternalId, "expected service id to match")
				assert.Equal(t, expectedService.Title, svc.Title, "expected title to match")
			}
		})
	}
}

func TestGetServicesHandler(t *testing.T) {
	dbService := database.Service{
		Id:           1,
		ExternalId:   "svc1",
		Title:        "Lawn mowing",
		Category:     "yard",
		RateCents:    4500,
		ProviderId:   2,
		ProviderName: "provider",
	}

	t.Run("returns a single service by id", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetServiceByExternalId", dbService.ExternalId).Return(dbService, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/services?id="+dbService.ExternalId, nil)
		app.getServices(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		var svc types.Service
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&svc))
		assert.Equal(t, dbService.ExternalId, svc.ExternalId, "expected service id to match")
		assert.Equal(t, dbService.ProviderName, svc.Provider, "expected provider name to match")
	})

	t.Run("returns 404 for unknown service", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetServiceByExternalId", "missing").Return(database.Service{}, sql.ErrNoRows).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/services?id=missing", nil)
		app.getServices(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})

	t.Run("lists services filtered by category", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListServices", "yard", 10).Return([]database.Service{dbService}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/services?category=yard&limit=10", nil)
		app.getServices(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		var services []types.Service
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&services))
		require.Len(t, services, 1, "expected one service")
		assert.Equal(t, dbService.ExternalId, services[0].ExternalId, "expected service id to match")
	})
}

func TestDeleteServiceHandler(t *testing.T) {
	dbService := database.Service{
		Id:         1,
		ExternalId: "svc1",
		ProviderId: 1,
	}

	tcases := []struct {
		name           string
		userId         int
		query          string
		expectDelete   bool
		expectedStatus int
	}{
		{
			name:           "provider deletes their service",
			userId:         1,
			query:          "?id=svc1",
			expectDelete:   true,
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "non-provider is forbidden",
			userId:         2,
			query:          "?id=svc1",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "fails with missing id",
			userId:         1,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockMarketRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.query != "" {
				mockRepo.On("GetServiceByExternalId", dbService.ExternalId).Return(dbService, nil).Once()
			}
			if tc.expectDelete {
				mockRepo.On("DeleteService", dbService.Id).Return(nil).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodDelete, "/api/services"+tc.query, nil)
			ctx := WithUserId(req.Context(), tc.userId)
			app.deleteService(rr, req.WithContext(ctx))

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")
		})
	}
}

func TestGetCommentsHandler(t *testing.T) {
	dbService := database.Service{Id: 1, ExternalId: "svc1"}

	t.Run("returns the threaded forest", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetServiceByExternalId", dbService.ExternalId).Return(dbService, nil).Once()
		mockRepo.On("GetCommentsByServiceId", dbService.Id).Return([]database.Comment{
			{Id: 1, ExternalId: "c1", ServiceId: 1, AuthorId: 1, AuthorName: "alice", Content: "great work"},
			{Id: 2, ExternalId: "c2", ServiceId: 1, AuthorId: 2, AuthorName: "bob", Content: "agreed", ParentId: 1, ParentExternalId: "c1"},
		}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/comments?service_id=svc1", nil)
		app.getComments(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		var forest []*types.Comment
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&forest))
		require.Len(t, forest, 1, "expected one root comment")
		assert.Equal(t, "c1", forest[0].Id, "expected root comment id to match")
		require.Len(t, forest[0].Replies, 1, "expected one reply")
		assert.Equal(t, "c2", forest[0].Replies[0].Id, "expected reply id to match")
	})

	t.Run("fails with missing service_id", func(t *testing.T) {
		app := newTestApp(t, &database.MockMarketRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/comments", nil)
		app.getComments(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("returns 404 for unknown service", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetServiceByExternalId", "missing").Return(database.Service{}, sql.ErrNoRows).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/comments?service_id=missing", nil)
		app.getComments(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})
}

func TestCreateCommentHandler(t *testing.T) {
	dbService := database.Service{Id: 1, ExternalId: "svc1"}
	author := database.User{Id: 1, Username: "alice"}

	t.Run("creates a top-level comment", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", author.Id).Return(author, nil).Once()
		mockRepo.On("GetServiceByExternalId", dbService.ExternalId).Return(dbService, nil).Once()
		mockRepo.On("CreateComment", database.CreateCommentParams{
			ServiceId:  dbService.Id,
			AuthorId:   author.Id,
			Content:    "great work",
			ExternalId: testShortId,
		}).Return(database.Comment{
			Id:         1,
			ExternalId: testShortId,
			ServiceId:  dbService.Id,
			AuthorId:   author.Id,
			AuthorName: author.Username,
			Content:    "great work",
		}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/comments", jsonBody(t, CreateCommentRequest{
			ServiceId: dbService.ExternalId,
			Content:   "great work",
		}))
		ctx := WithUserId(req.Context(), author.Id)
		app.createComment(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")
		var comment types.Comment
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&comment))
		assert.Equal(t, testShortId, comment.Id, "expected comment id to match")
		assert.Empty(t, comment.ParentId, "expected top-level comment to have no parent")
	})

	t.Run("creates a reply", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", author.Id).Return(author, nil).Once()
		mockRepo.On("GetServiceByExternalId", dbService.ExternalId).Return(dbService, nil).Once()
		mockRepo.On("GetCommentByExternalId", "c1").Return(database.Comment{
			Id:         7,
			ExternalId: "c1",
			ServiceId:  dbService.Id,
		}, nil).Once()
		mockRepo.On("CreateComment", database.CreateCommentParams{
			ServiceId:  dbService.Id,
			AuthorId:   author.Id,
			ParentId:   7,
			Content:    "agreed",
			ExternalId: testShortId,
		}).Return(database.Comment{
			Id:         8,
			ExternalId: testShortId,
			ServiceId:  dbService.Id,
			AuthorId:   author.Id,
			ParentId:   7,
			Content:    "agreed",
		}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/comments", jsonBody(t, CreateCommentRequest{
			ServiceId: dbService.ExternalId,
			ParentId:  "c1",
			Content:   "agreed",
		}))
		ctx := WithUserId(req.Context(), author.Id)
		app.createComment(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")
		var comment types.Comment
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&comment))
		assert.Equal(t, "c1", comment.ParentId, "expected reply to carry parent id")
	})

	t.Run("rejects empty content", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", author.Id).Return(author, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/comments", jsonBody(t, CreateCommentRequest{
			ServiceId: dbService.ExternalId,
			Content:   "   ",
		}))
		ctx := WithUserId(req.Context(), author.Id)
		app.createComment(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("rejects a reply to a comment on another service", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", author.Id).Return(author, nil).Once()
		mockRepo.On("GetServiceByExternalId", dbService.ExternalId).Return(dbService, nil).Once()
		mockRepo.On("GetCommentByExternalId", "c1").Return(database.Comment{
			Id:         7,
			ExternalId: "c1",
			ServiceId:  99,
		}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/comments", jsonBody(t, CreateCommentRequest{
			ServiceId: dbService.ExternalId,
			ParentId:  "c1",
			Content:   "agreed",
		}))
		ctx := WithUserId(req.Context(), author.Id)
		app.createComment(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("fails without identity in context", func(t *testing.T) {
		app := newTestApp(t, &database.MockMarketRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/comments", jsonBody(t, CreateCommentRequest{
			ServiceId: dbService.ExternalId,
			Content:   "great work",
		}))
		app.createComment(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})
}

func TestCreateConversationHandler(t *testing.T) {
	dbConv := database.Conversation{
		Id:         1,
		ExternalId: "conv1",
		UserA:      1,
		UserAName:  "alice",
		UserB:      2,
		UserBName:  "bob",
	}

	t.Run("resolves the conversation for a peer", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", 2).Return(database.User{Id: 2, Username: "bob"}, nil).Once()
		mockRepo.On("GetOrCreateConversation", 1, 2, testShortId).Return(dbConv, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations", jsonBody(t, CreateConversationRequest{PeerId: 2}))
		ctx := WithUserId(req.Context(), 1)
		app.createConversation(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		var conv types.Conversation
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&conv))
		assert.Equal(t, dbConv.ExternalId, conv.ExternalId, "expected conversation id to match")
		assert.Equal(t, "bob", conv.Peer(1).Username, "expected peer to be the other participant")
	})

	t.Run("rejects a conversation with yourself", func(t *testing.T) {
		app := newTestApp(t, &database.MockMarketRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations", jsonBody(t, CreateConversationRequest{PeerId: 1}))
		ctx := WithUserId(req.Context(), 1)
		app.createConversation(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("returns 404 for unknown peer", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", 99).Return(database.User{}, sql.ErrNoRows).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations", jsonBody(t, CreateConversationRequest{PeerId: 99}))
		ctx := WithUserId(req.Context(), 1)
		app.createConversation(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})

	t.Run("rejects a missing peer id", func(t *testing.T) {
		app := newTestApp(t, &database.MockMarketRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations", jsonBody(t, CreateConversationRequest{}))
		ctx := WithUserId(req.Context(), 1)
		app.createConversation(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})
}

func TestListConversationsHandler(t *testing.T) {
	mockRepo := &database.MockMarketRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListConversations", 1).Return([]database.Conversation{
		{Id: 1, ExternalId: "conv1", UserA: 1, UserAName: "alice", UserB: 2, UserBName: "bob"},
		{Id: 2, ExternalId: "conv2", UserA: 1, UserAName: "alice", UserB: 3, UserBName: "carol"},
	}, nil).Once()

	app := newTestApp(t, mockRepo)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	ctx := WithUserId(req.Context(), 1)
	app.listConversations(rr, req.WithContext(ctx))

	assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
	var convs []types.Conversation
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&convs))
	require.Len(t, convs, 2, "expected two conversations")
	assert.Equal(t, "bob", convs[0].Peer(1).Username, "expected first peer to match")
	assert.Equal(t, "carol", convs[1].Peer(1).Username, "expected second peer to match")
}

func TestGetMessagesHandler(t *testing.T) {
	dbConv := database.Conversation{
		Id:         1,
		ExternalId: "conv1",
		UserA:      1,
		UserB:      2,
	}

	tcases := []struct {
		name           string
		userId         int
		query          string
		mockConvErr    error
		expectMessages bool
		expectedStatus int
	}{
		{
			name:           "returns messages for a participant",
			userId:         1,
			query:          "?conversation_id=conv1",
			expectMessages: true,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "forbids a non-participant",
			userId:         3,
			query:          "?conversation_id=conv1",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "returns 404 for unknown conversation",
			userId:         1,
			query:          "?conversation_id=conv1",
			mockConvErr:    sql.ErrNoRows,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "fails with missing conversation_id",
			userId:         1,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fails with invalid limit",
			userId:         1,
			query:          "?conversation_id=conv1&limit=abc",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockMarketRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.query != "" {
				mockRepo.On("GetConversationByExternalId", dbConv.ExternalId).
					Return(dbConv, tc.mockConvErr).Once()
			}
			if tc.expectMessages {
				mockRepo.On("GetConversationMessages", dbConv.Id).Return([]database.Message{
					{Id: 1, ExternalId: "m1", ConversationId: 1, SenderId: 1, SenderName: "alice", Body: "hi"},
					{Id: 2, ExternalId: "m2", ConversationId: 1, SenderId: 2, SenderName: "bob", Body: "hello"},
				}, nil).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/messages"+tc.query, nil)
			ctx := WithUserId(req.Context(), tc.userId)
			app.getMessages(rr, req.WithContext(ctx))

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")

			if tc.expectMessages {
				var messages []types.Message
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&messages))
				require.Len(t, messages, 2, "expected two messages")
				assert.Equal(t, "m1", messages[0].Id, "expected oldest message first")
				assert.Equal(t, dbConv.ExternalId, messages[0].ConversationId, "expected conversation id to be the external id")
			}
		})
	}
}

func TestGetMessagesHandler_historyWindowing(t *testing.T) {
	dbConv := database.Conversation{
		Id:         1,
		ExternalId: "conv1",
		UserA:      1,
		UserB:      2,
	}

	manyMessages := make([]database.Message, 75)
	for i := range manyMessages {
		manyMessages[i] = database.Message{
			Id:             i + 1,
			ExternalId:     fmt.Sprintf("m%d", i+1),
			ConversationId: 1,
			SenderId:       1,
			SenderName:     "alice",
			Body:           "hi",
		}
	}

	t.Run("no window params loads the full history", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetConversationByExternalId", dbConv.ExternalId).Return(dbConv, nil).Once()
		mockRepo.On("GetConversationMessages", dbConv.Id).Return(manyMessages, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id=conv1", nil)
		ctx := WithUserId(req.Context(), 1)
		app.getMessages(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to match")

		var messages []types.Message
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&messages))
		require.Len(t, messages, len(manyMessages), "expected every message, not a clamped page")
		assert.Equal(t, "m1", messages[0].Id, "expected oldest message first")
		assert.Equal(t, "m75", messages[len(messages)-1].Id, "expected most recent message last")
		mockRepo.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("explicit window uses the bounded query", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetConversationByExternalId", dbConv.ExternalId).Return(dbConv, nil).Once()
		mockRepo.On("GetMessages", dbConv.Id, 10, 0, 25).Return(manyMessages[10:35], nil).Once()

		app := newTestApp(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id=conv1&since=10&limit=25", nil)
		ctx := WithUserId(req.Context(), 1)
		app.getMessages(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to match")

		var messages []types.Message
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&messages))
		require.Len(t, messages, 25, "expected the requested page")
		mockRepo.AssertNotCalled(t, "GetConversationMessages", mock.Anything)
	})
}

func TestCreateMessageHandler(t *testing.T) {
	dbConv := database.Conversation{
		Id:         1,
		ExternalId: "conv1",
		UserA:      1,
		UserB:      2,
	}

	newAppWithChatServer := func(t *testing.T, mockRepo database.MarketRepository) *MarketApp {
		t.Helper()

		mockStats := &stats.MockStatsUpdater{}
		mockStats.On("RegisterMetric", mock.AnythingOfType("string")).Return()
		cs, err := server.NewChatServer(testutil.TestLogger(t), mockRepo, mockStats)
		require.NoError(t, err)

		app := NewMarketApp(http.NewServeMux(), testutil.TestLogger(t), cs, mockRepo, &config.Config{
			SigningKey: []byte("test-signing-key"),
		})
		app.generateShortId = func() (string, error) {
			return testShortId, nil
		}
		return app
	}

	t.Run("persists and returns the message", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetConversationByExternalId", dbConv.ExternalId).Return(dbConv, nil).Once()
		mockRepo.On("CreateMessage", database.CreateMessageParams{
			ConversationId: dbConv.Id,
			SenderId:       1,
			Body:           "hi there",
			ExternalId:     testShortId,
		}).Return(database.Message{
			Id:             1,
			ExternalId:     testShortId,
			ConversationId: dbConv.Id,
			SenderId:       1,
			SenderName:     "alice",
			Body:           "hi there",
			CreatedAt:      time.Now().UTC(),
		}, nil).Once()

		app := newAppWithChatServer(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/messages", jsonBody(t, CreateMessageRequest{
			ConversationId: dbConv.ExternalId,
			Body:           "hi there",
		}))
		ctx := WithUserId(req.Context(), 1)
		app.createMessage(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")
		var msg types.Message
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&msg))
		assert.Equal(t, testShortId, msg.Id, "expected message id to match")
		assert.Equal(t, dbConv.ExternalId, msg.ConversationId, "expected conversation id to be the external id")
		assert.Equal(t, "alice", msg.SenderName, "expected sender name to match")
	})

	t.Run("rejects an empty body", func(t *testing.T) {
		app := newAppWithChatServer(t, &database.MockMarketRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/messages", jsonBody(t, CreateMessageRequest{
			ConversationId: dbConv.ExternalId,
		}))
		ctx := WithUserId(req.Context(), 1)
		app.createMessage(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("forbids a non-participant", func(t *testing.T) {
		mockRepo := &database.MockMarketRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetConversationByExternalId", dbConv.ExternalId).Return(dbConv, nil).Once()

		app := newAppWithChatServer(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/messages", jsonBody(t, CreateMessageRequest{
			ConversationId: dbConv.ExternalId,
			Body:           "hi there",
		}))
		ctx := WithUserId(req.Context(), 3)
		app.createMessage(rr, req.WithContext(ctx))

		assert.Equal(t, http.StatusForbidden, rr.Code, "expected status code to be 403")
	})
}
