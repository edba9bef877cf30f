// Package transport exposes the agent over HTTP.
//
//	POST /v1/agent  -> {"text": "..."} or {"error": "..."}
//	GET  /healthz   -> {"status": "ok"}
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

// MaxBodyBytes caps request bodies; base64 voice notes dominate the size.
const MaxBodyBytes = 16 << 20

const msgInvalidBody = "invalid request body"

// Agent is the operation the handler serves.
type Agent interface {
	HandleMessage(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	agent Agent
	mux   *http.ServeMux
}

func NewHandler(agent Agent) *Handler {
	h := &Handler{agent: agent, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /v1/agent", h.handleAgent)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var req contractx.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		log.Debug().Err(err).Msg("decode agent request")
		writeJSON(w, status, errorResponse{Error: msgInvalidBody})
		return
	}

	resp, err := h.agent.HandleMessage(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, errorResponse{Error: contractx.GenericFailureMessage})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" split_words:"true" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" split_words:"true" default:"130s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"15s"`
}

// Serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests for at most ShutdownTimeout.
func Serve(ctx context.Context, cfg ServerConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return log.Logger.WithContext(context.Background())
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
