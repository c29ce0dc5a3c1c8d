package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/mfenwick/go-marketplace/internal/comments"
	"github.com/mfenwick/go-marketplace/internal/config"
	"github.com/mfenwick/go-marketplace/internal/database"
	"github.com/mfenwick/go-marketplace/internal/server"
	"github.com/teris-io/shortid"
)

type MarketApp struct {
	log            *log.Logger
	db             database.MarketRepository
	mux            *http.Server
	cs             *server.ChatServer
	threader       *comments.Threader
	signingKey     []byte
	allowedOrigins []string

	// overridable for tests
	generateShortId func() (string, error)
}

func NewMarketApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.MarketRepository, cfg *config.Config) *MarketApp {
	s := &MarketApp{
		log:             logger,
		db:              db,
		cs:              cs,
		threader:        comments.NewThreader(logger, db),
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("POST /api/services", s.authMiddleware(s.createService))
	mux.HandleFunc("GET /api/services", s.getServices)
	mux.Handle("DELETE /api/services", s.authMiddleware(s.deleteService))
	mux.HandleFunc("GET /api/comments", s.getComments)
	mux.Handle("POST /api/comments", s.authMiddleware(s.createComment))
	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/messages", s.authMiddleware(s.createMessage))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *MarketApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *MarketApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *MarketApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
