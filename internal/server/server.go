package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cgast/dispatchd/internal/auth"
	"github.com/cgast/dispatchd/internal/engine"
	"github.com/cgast/dispatchd/internal/groups"
	"github.com/cgast/dispatchd/internal/logging"
	"github.com/cgast/dispatchd/pkg/command"
	"github.com/cgast/dispatchd/pkg/events"
	"github.com/cgast/dispatchd/pkg/sse"
)

// Server is the HTTP surface: command discovery, streamed execution,
// group administration and the lifecycle event feed.
type Server struct {
	engine    *engine.Engine
	registry  *command.Registry
	store     *groups.Store
	bus       events.EventBus
	log       *logging.Logger
	mux       *http.ServeMux
	startTime time.Time
}

// New wires the HTTP routes over the given components.
func New(eng *engine.Engine, registry *command.Registry, store *groups.Store, bus events.EventBus, log *logging.Logger) *Server {
	s := &Server{
		engine:    eng,
		registry:  registry,
		store:     store,
		bus:       bus,
		log:       log,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}

	s.mux.HandleFunc("/commands", s.handleCommands)
	s.mux.HandleFunc("/execute", s.handleExecute)
	s.mux.HandleFunc("/users/", s.handleUsers)
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/healthz", s.handleHealthz)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// commandInfo is the discovery wire form of one descriptor. Base request
// keys never appear here; schemas cannot declare them.
type commandInfo struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Parameters    []command.Field `json:"parameters"`
	AllowedUsers  []string        `json:"allowed_users"`
	AllowedGroups []string        `json:"allowed_groups"`
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	descriptors := s.registry.List()
	infos := make([]commandInfo, len(descriptors))
	for i, d := range descriptors {
		infos[i] = commandInfo{
			Name:          d.Name,
			Description:   d.Description,
			Parameters:    emptyIfNilFields(d.Schema),
			AllowedUsers:  emptyIfNil(d.Policy.AllowedUsers),
			AllowedGroups: emptyIfNil(d.Policy.AllowedGroups),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": infos})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req command.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	ch, err := s.engine.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		// Returning cancels the request context, which stops the handler.
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for ev := range ch {
		if err := sw.Send(ev); err != nil {
			s.log.Debugf("stream to client broken: %v", err)
			return
		}
	}
}

// handleUsers covers the group administration routes:
//
//	GET    /users/{principal}/groups
//	POST   /users/{principal}/groups/{group}
//	DELETE /users/{principal}/groups/{group}
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/users/"), "/"), "/")

	switch {
	case len(parts) == 2 && parts[1] == "groups" && parts[0] != "":
		principal := parts[0]
		if r.Method != http.MethodGet {
			http.Error(w, "GET required", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"principal": principal,
			"groups":    emptyIfNil(s.store.GroupsOf(principal)),
		})

	case len(parts) == 3 && parts[1] == "groups" && parts[0] != "" && parts[2] != "":
		principal, group := parts[0], parts[2]
		switch r.Method {
		case http.MethodPost:
			if err := s.store.AddMember(principal, group); err != nil {
				s.writeError(w, http.StatusInternalServerError, err)
				return
			}
			s.log.Infof("member added principal=%s group=%s", principal, group)
			writeJSON(w, http.StatusOK, map[string]string{
				"message": fmt.Sprintf("added '%s' to group '%s'", principal, group),
			})
		case http.MethodDelete:
			if err := s.store.RemoveMember(principal, group); err != nil {
				s.writeError(w, http.StatusInternalServerError, err)
				return
			}
			s.log.Infof("member removed principal=%s group=%s", principal, group)
			writeJSON(w, http.StatusOK, map[string]string{
				"message": fmt.Sprintf("removed '%s' from group '%s'", principal, group),
			})
		default:
			http.Error(w, "POST or DELETE required", http.StatusMethodNotAllowed)
		}

	default:
		http.NotFound(w, r)
	}
}

// handleEvents streams the lifecycle feed: history first, then live.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Snapshot and subscribe together so nothing published in between is
	// lost to this client.
	history, ch := s.bus.Tail(time.Time{})
	defer s.bus.Unsubscribe(ch)

	for _, ev := range history {
		if err := sw.Send(ev); err != nil {
			return
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sw.Send(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"commands": len(s.registry.Names()),
		"groups":   len(s.store.Groups()),
	})
}

// statusFor maps request-path errors onto HTTP statuses. Failures after
// the stream has started never reach this; they are terminal frames.
func statusFor(err error) int {
	var verr *command.ValidationError
	var aerr *auth.Error
	switch {
	case errors.Is(err, command.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &aerr):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Errorf("request failed status=%d error=%v", status, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyIfNilFields(s command.Schema) []command.Field {
	if s == nil {
		return []command.Field{}
	}
	return s
}
