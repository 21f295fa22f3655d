// Package chattest provides an in-process fake of the chat platform REST API
// for tests of packages that talk to it.
package chattest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
)

// Server is a fake chat platform. Zero value is not usable; call NewServer.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]user            // username -> user
	sessions  map[string]string          // token -> user id
	groups    map[string][]string        // group id -> member ids
	failPaths map[string]map[string]bool // path -> user id (or "*") -> fail
	failLogin map[string]bool            // username -> fail
	calls     []string
	nextID    int
	nextToken int
}

type user struct {
	id       string
	password string
}

// NewServer starts a fake server closed at test cleanup.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		users:     make(map[string]user),
		sessions:  make(map[string]string),
		groups:    make(map[string][]string),
		failPaths: make(map[string]map[string]bool),
		failLogin: make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API base, ending in /api/v1.
func (s *Server) BaseURL() string {
	return s.URL + "/api/v1"
}

// AddUser registers an account and returns its remote id.
func (s *Server) AddUser(username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("rc-%d", s.nextID)
	s.users[username] = user{id: id, password: password}
	return id
}

// UserID returns the remote id of username, or "".
func (s *Server) UserID(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[username].id
}

// SetGroup replaces the member list of a group.
func (s *Server) SetGroup(groupID string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = slices.Clone(members)
}

// Members returns the sorted member list of a group.
func (s *Server) Members(groupID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := slices.Clone(s.groups[groupID])
	slices.Sort(m)
	return m
}

// FailLogin makes logins of username fail with 401.
func (s *Server) FailLogin(username string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogin[username] = fail
}

// FailPath makes requests to path (e.g. "/groups.invite") fail with 500.
// userID limits the failure to requests naming that user; "*" fails all.
func (s *Server) FailPath(path, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPaths[path] == nil {
		s.failPaths[path] = make(map[string]bool)
	}
	s.failPaths[path][userID] = true
}

// ActiveSessions counts sessions that were not logged out.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Calls returns "METHOD /path" for every request, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+path)

	if path == "/login" {
		s.login(w, r)
		return
	}

	caller, ok := s.sessions[r.Header.Get("X-Auth-Token")]
	if !ok || caller != r.Header.Get("X-User-Id") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "You must be logged in to do this."})
		return
	}

	switch path {
	case "/logout":
		delete(s.sessions, r.Header.Get("X-Auth-Token"))
		writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
	case "/groups.members":
		groupID := r.URL.Query().Get("roomId")
		if s.shouldFail(path, "*") {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "boom"})
			return
		}
		members, ok := s.groups[groupID]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "error-room-not-found"})
			return
		}
		list := make([]map[string]string, 0, len(members))
		for _, id := range members {
			list = append(list, map[string]string{"_id": id})
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "members": list})
	case "/groups.invite", "/groups.kick":
		var body struct {
			RoomID string `json:"roomId"`
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
		if s.shouldFail(path, body.UserID) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "boom"})
			return
		}
		members := s.groups[body.RoomID]
		if path == "/groups.invite" {
			if !slices.Contains(members, body.UserID) {
				members = append(members, body.UserID)
			}
		} else {
			members = slices.DeleteFunc(members, func(id string) bool { return id == body.UserID })
		}
		s.groups[body.RoomID] = members
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found"})
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var username, password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			LDAP     bool   `json:"ldap"`
			Username string `json:"username"`
			LDAPPass string `json:"ldapPass"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.LDAP {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "bad ldap login"})
			return
		}
		username, password = body.Username, body.LDAPPass
		// LDAP login provisions the account on first use.
		if _, exists := s.users[username]; !exists && !s.failLogin[username] {
			s.nextID++
			s.users[username] = user{id: fmt.Sprintf("rc-%d", s.nextID), password: password}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": err.Error()})
			return
		}
		username, password = r.PostForm.Get("username"), r.PostForm.Get("password")
	}

	u, ok := s.users[username]
	if !ok || u.password != password || s.failLogin[username] {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "error": "Unauthorized"})
		return
	}

	s.nextToken++
	token := fmt.Sprintf("tok-%d", s.nextToken)
	s.sessions[token] = u.id
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]string{"authToken": token, "userId": u.id},
	})
}

func (s *Server) shouldFail(path, userID string) bool {
	f := s.failPaths[path]
	return f["*"] || f[userID]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
