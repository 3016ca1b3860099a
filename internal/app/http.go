package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"convsync/pkg/engine"
	"convsync/pkg/logger"
)

// router builds the daemon's HTTP surface. The /v1 endpoints mirror the
// engine API so local clients (and operators with curl) can drive a session
// without linking the engine in-process.
func (a *App) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations", a.listConversationsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{counterpart}/messages", a.listMessagesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{counterpart}/messages", a.sendMessageHandler).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{counterpart}/seen", a.markSeenHandler).Methods(http.MethodPost)
	v1.HandleFunc("/unread", a.unreadHandler).Methods(http.MethodGet)
	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": ver})
}

func (a *App) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := a.eng.Conversations(r.Context())
	if err != nil {
		logger.Error("list_conversations_failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "conversation fetch failed"})
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (a *App) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	counterpart := mux.Vars(r)["counterpart"]
	writeJSON(w, http.StatusOK, a.eng.Messages(counterpart))
}

func (a *App) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	counterpart := mux.Vars(r)["counterpart"]
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	m, err := a.eng.Send(r.Context(), counterpart, body.Text)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyMessage) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		var se *engine.SendError
		if errors.As(err, &se) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": se.Error(), "temp_id": se.TempID})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *App) markSeenHandler(w http.ResponseWriter, r *http.Request) {
	counterpart := mux.Vars(r)["counterpart"]
	if err := a.eng.MarkSeen(r.Context(), counterpart); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) unreadHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total":         a.eng.TotalUnread(),
		"conversations": a.eng.UnreadSnapshot(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response_encode_failed", "error", err)
	}
}

// startHTTP starts the HTTP server in a goroutine and returns a channel that
// carries any server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: a.router()}
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}
