// Package server exposes the assistant over WebSocket. Every message names
// the caller's role and is validated on its own; a connection never carries
// an authorization state between messages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/rag"
	"github.com/xhad/rolerag/pkg/role"
)

// Message types.
const (
	TypeQuery    = "query"
	TypeSearch   = "search"
	TypeResponse = "response"
	TypeStream   = "stream"
	TypeDone     = "done"
	TypeResults  = "results"
	TypeError    = "error"
)

type Message struct {
	Type      string      `json:"type"`
	Role      string      `json:"role,omitempty"`
	Content   string      `json:"content"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Hit is a search result as sent to clients.
type Hit struct {
	ID         int64   `json:"id"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// Assistant is what the server needs from rag.Assistant.
type Assistant interface {
	Ask(ctx context.Context, roleName, question string, opts ...types.SearchOption) (rag.Answer, error)
	AskStream(ctx context.Context, roleName, question string, opts ...types.SearchOption) (rag.Stream, error)
	Retrieve(ctx context.Context, roleName, question string, opts ...types.SearchOption) ([]models.SearchResult, error)
}

type Config struct {
	Addr           string
	Streaming      bool
	RequestTimeout time.Duration
	Registry       *prometheus.Registry
	Logger         *zap.Logger
}

type WSServer struct {
	config    Config
	assistant Assistant
	upgrader  websocket.Upgrader
	metrics   *metrics
	logger    *zap.Logger
}

func NewWSServer(assistant Assistant, config Config) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &WSServer{
		config:    config,
		assistant: assistant,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		metrics: newMetrics(config.Registry),
		logger:  config.Logger.Named("server"),
	}
}

// Handler routes /ws, /health and /metrics.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", zap.String("addr", s.config.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.metrics.conns.Inc()
	defer s.metrics.conns.Dec()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(conn, Message{Type: TypeError, Content: "Malformed message."})
			continue
		}

		// Messages on one connection are served in order so replies never interleave.
		s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *WSServer) handleMessage(parent context.Context, conn *websocket.Conn, msg Message) {
	start := time.Now()
	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = TypeQuery
	}

	ctx, cancel := context.WithTimeout(parent, s.config.RequestTimeout)
	defer cancel()

	logger := s.logger.With(zap.String("request_id", requestID), zap.String("type", msg.Type))
	reply := func(m Message) {
		m.RequestID = requestID
		s.send(conn, m)
	}

	r, err := role.Validate(msg.Role)
	if err != nil {
		s.fail(logger, reply, "invalid", msg.Type, err)
		return
	}
	roleName := r.String()

	if strings.TrimSpace(msg.Content) == "" {
		s.fail(logger, reply, roleName, msg.Type, errs.New(errs.CodeInvalidArgument, "empty question"))
		return
	}

	var (
		count int
		final Message
	)
	switch msg.Type {
	case TypeSearch:
		results, err := s.assistant.Retrieve(ctx, roleName, msg.Content)
		if err != nil {
			s.fail(logger, reply, roleName, msg.Type, err)
			return
		}
		hits := make([]Hit, len(results))
		for i, res := range results {
			hits[i] = Hit{ID: res.ID, Content: res.Content, Source: res.Source(), Similarity: res.Similarity}
		}
		count = len(results)
		final = Message{Type: TypeResults, Role: roleName, Data: hits}

	case TypeQuery:
		if s.config.Streaming {
			stream, err := s.assistant.AskStream(ctx, roleName, msg.Content)
			if err != nil {
				s.fail(logger, reply, roleName, msg.Type, err)
				return
			}
			for chunk := range stream.Chunks {
				reply(Message{Type: TypeStream, Role: roleName, Content: chunk})
			}
			if err := <-stream.Err; err != nil {
				s.fail(logger, reply, roleName, msg.Type, err)
				return
			}
			count = len(stream.Results)
			final = Message{Type: TypeDone, Role: roleName, Data: map[string]interface{}{"sources": stream.Sources}}
		} else {
			answer, err := s.assistant.Ask(ctx, roleName, msg.Content)
			if err != nil {
				s.fail(logger, reply, roleName, msg.Type, err)
				return
			}
			count = len(answer.Results)
			final = Message{
				Type:    TypeResponse,
				Role:    roleName,
				Content: answer.Text,
				Data:    map[string]interface{}{"sources": answer.Sources},
			}
		}

	default:
		s.fail(logger, reply, roleName, "unknown", errs.Errorf(errs.CodeInvalidArgument, "unknown message type %q", msg.Type))
		return
	}

	// Recorded before the final reply.
	s.metrics.requests.WithLabelValues(roleName, msg.Type, "ok").Inc()
	s.metrics.duration.WithLabelValues(msg.Type).Observe(time.Since(start).Seconds())
	s.metrics.documents.WithLabelValues(roleName).Observe(float64(count))
	logger.Info("request served", zap.String("role", roleName), zap.Int("documents", count),
		zap.Duration("elapsed", time.Since(start)))
	reply(final)
}

// fail reports err to the client as a generic message. The detail stays in the log.
func (s *WSServer) fail(logger *zap.Logger, reply func(Message), roleLabel, msgType string, err error) {
	outcome := string(errs.CodeOf(err))
	if outcome == "" {
		outcome = "error"
	}
	if msgType != TypeQuery && msgType != TypeSearch {
		msgType = "unknown"
	}
	s.metrics.requests.WithLabelValues(roleLabel, msgType, outcome).Inc()

	if errs.HasCode(err, errs.CodeInvalidRole) {
		logger.Warn("request rejected", zap.String("reason", "invalid_role"))
	} else {
		logger.Error("request failed", zap.String("role", roleLabel), zap.Error(err))
	}
	reply(Message{Type: TypeError, Content: errs.Public(err)})
}

func (s *WSServer) send(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("error sending message", zap.Error(err))
	}
}
