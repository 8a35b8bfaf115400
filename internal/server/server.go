// Package server exposes the inbound HTTP surface: the WhatsApp webhook
// and a health probe. Webhook handling is acknowledge-fast: the event is
// parsed, handed to the dispatcher in the background, and Twilio gets an
// immediate empty TwiML response.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/dispatch"
	"github.com/ecobot-id/ecobot/internal/messaging"
)

// handleTimeout bounds background processing of one webhook event.
const handleTimeout = 2 * time.Minute

type Server struct {
	http       *http.Server
	dispatcher *dispatch.Dispatcher
	whatsapp   *messaging.TwilioWhatsApp
	logger     *zap.Logger
}

func New(port int, dispatcher *dispatch.Dispatcher, whatsapp *messaging.TwilioWhatsApp, logger *zap.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		whatsapp:   whatsapp,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/whatsapp", s.handleWhatsApp)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	msg, err := s.whatsapp.ParseWebhook(r)
	if err != nil {
		s.logger.Warn("Rejected malformed webhook", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Status callbacks and other non-message events parse to nil.
	if msg != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			defer cancel()
			s.dispatcher.Handle(ctx, msg)
		}()
	}

	// Empty TwiML: replies go out via the REST API, not the webhook
	// response.
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`))
}
