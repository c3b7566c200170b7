package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Its-donkey/hello-near/internal/panel"
	"github.com/Its-donkey/hello-near/logging"
)

const eventsHeartbeat = 15 * time.Second

type greetingState struct {
	Network    string         `json:"network"`
	ContractID string         `json:"contractId"`
	Snapshot   panel.Snapshot `json:"snapshot"`
}

type submitRequest struct {
	Greeting *string `json:"greeting"`
}

type submitResponse struct {
	Outcome  panel.Outcome  `json:"outcome"`
	Snapshot panel.Snapshot `json:"snapshot"`
	Error    string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleAPIGreeting(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	sess, _, err := s.sessionFor(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session unavailable"})
		return
	}
	p := sess.Panel

	if r.Method == http.MethodGet {
		if r.URL.Query().Get("refresh") != "" {
			if _, err := p.Refresh(r.Context()); err != nil {
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
				return
			}
		} else if !s.awaitLoaded(r.Context(), p) {
			return
		}
		writeJSON(w, http.StatusOK, greetingState{
			Network:    s.network.ID,
			ContractID: s.contractID,
			Snapshot:   p.Snapshot(),
		})
		return
	}

	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil || req.Greeting == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expected a JSON body with a greeting field"})
		return
	}
	if !p.LoggedIn() {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "sign in to change the greeting"})
		return
	}

	if !s.awaitLoaded(r.Context(), p) {
		return
	}
	out, err := p.Submit(r.Context(), *req.Greeting)
	resp := submitResponse{Outcome: out, Snapshot: p.Snapshot()}
	status := http.StatusOK
	if !out.Confirmed && !out.Superseded {
		status = http.StatusAccepted
	}
	if err != nil {
		resp.Error = err.Error()
		status = submitErrorStatus(err)
	}
	writeJSON(w, status, resp)
}

func submitErrorStatus(err error) int {
	if failure, ok := panel.AsFailure(err); ok {
		switch failure.Kind {
		case panel.SessionExpired:
			return http.StatusUnauthorized
		case panel.ReadFailure:
			return http.StatusAccepted
		}
		if errors.Is(failure.Err, context.Canceled) || errors.Is(failure.Err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusServiceUnavailable
}

// handleEvents streams a snapshot event after every panel change.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sess, _, err := s.sessionFor(w, r)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	updates := make(chan panel.Snapshot, 16)
	unsubscribe := sess.Panel.Subscribe(updates)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSnapshot := func(snap panel.Snapshot) bool {
		data, err := json.Marshal(snap)
		if err != nil {
			s.logger.Error(logging.CategoryHTTP, "encode snapshot failed", err, nil)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeSnapshot(sess.Panel.Snapshot()) {
		return
	}

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if !writeSnapshot(snap) {
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
