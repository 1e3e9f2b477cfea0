// Package wakatest runs an in-memory WakaTime OAuth and stats API for tests.
package wakatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Server fakes the token endpoint and the users/current stats endpoints.
//
// Authorization codes have the form "code-<user>". Every grant issues
// "acc-<user>-<n>" and "ref-<user>-<n>"; only the latest refresh token of a
// user is accepted.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	seconds      map[string]float64
	languages    map[string][]string
	revoked      map[string]bool
	statsDown    map[string]bool
	generation   map[string]int
	refreshToken map[string]string
	accessOwner  map[string]string
	refreshCalls map[string]int
}

// NewServer starts a fake API. Close it when done.
func NewServer() *Server {
	s := &Server{
		seconds:      map[string]float64{},
		languages:    map[string][]string{},
		revoked:      map[string]bool{},
		statsDown:    map[string]bool{},
		generation:   map[string]int{},
		refreshToken: map[string]string{},
		accessOwner:  map[string]string{},
		refreshCalls: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/api/v1/users/current", s.handleCurrentUser)
	mux.HandleFunc("/api/v1/users/current/summaries", s.handleSummaries)
	mux.HandleFunc("/api/v1/users/current/all_time_since_today", s.handleAllTime)
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) AuthURL() string    { return s.URL + "/oauth/authorize" }
func (s *Server) TokenURL() string   { return s.URL + "/oauth/token" }
func (s *Server) APIBaseURL() string { return s.URL + "/api/v1/" }

// SetStats sets a user's total and the top language of each day.
func (s *Server) SetStats(user string, seconds float64, dailyTopLanguages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seconds[user] = seconds
	s.languages[user] = dailyTopLanguages
}

// Revoke makes every further refresh for user fail with invalid_grant.
func (s *Server) Revoke(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[user] = true
}

// FailStats makes the stats endpoints answer 500 for user.
func (s *Server) FailStats(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsDown[user] = true
}

// RefreshCalls returns how many refresh grants user attempted.
func (s *Server) RefreshCalls(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls[user]
}

// CurrentRefreshToken is the refresh token the server accepts next for user.
func (s *Server) CurrentRefreshToken(user string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken[user]
}

func (s *Server) issue(user string) url.Values {
	s.generation[user]++
	n := s.generation[user]
	access := fmt.Sprintf("acc-%s-%d", user, n)
	refresh := fmt.Sprintf("ref-%s-%d", user, n)
	s.refreshToken[user] = refresh
	s.accessOwner[access] = user
	return url.Values{
		"access_token":  {access},
		"refresh_token": {refresh},
		"token_type":    {"bearer"},
		"expires_in":    {"43200"},
		"scope":         {"email,read_stats"},
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.Method != http.MethodPost {
		http.Error(w, "error=invalid_request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		user, ok := strings.CutPrefix(r.PostForm.Get("code"), "code-")
		if !ok || user == "" {
			http.Error(w, "error=invalid_grant", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(s.issue(user).Encode()))
	case "refresh_token":
		old := r.PostForm.Get("refresh_token")
		user := ownerOfRefresh(old)
		s.refreshCalls[user]++
		if user == "" || s.revoked[user] || s.refreshToken[user] != old {
			http.Error(w, "error=invalid_grant", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(s.issue(user).Encode()))
	default:
		http.Error(w, "error=unsupported_grant_type", http.StatusBadRequest)
	}
}

// ownerOfRefresh extracts <user> from "ref-<user>-<n>".
func ownerOfRefresh(token string) string {
	rest, ok := strings.CutPrefix(token, "ref-")
	if !ok {
		return ""
	}
	i := strings.LastIndex(rest, "-")
	if i <= 0 {
		return ""
	}
	return rest[:i]
}

// authorize returns the user owning the bearer token, writing the error
// response itself when there is none.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	bearer, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	user, ok := s.accessOwner[bearer]
	down := s.statsDown[user]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
		return "", false
	}
	if down {
		http.Error(w, `{"error":"Internal error"}`, http.StatusInternalServerError)
		return "", false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{"data": map[string]any{
		"id":           "id-" + user,
		"username":     user + "_waka",
		"display_name": user,
	}})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	seconds, langs := s.seconds[user], s.languages[user]
	s.mu.Unlock()

	days := make([]map[string]any, 0, len(langs))
	for _, l := range langs {
		var list []map[string]any
		if l != "" {
			list = append(list, map[string]any{"name": l, "total_seconds": 60})
		}
		days = append(days, map[string]any{"languages": list})
	}
	writeJSON(w, map[string]any{
		"data": days,
		"cummulative_total": map[string]any{
			"seconds": seconds,
			"text":    fmt.Sprintf("%.0f secs", seconds),
		},
	})
}

func (s *Server) handleAllTime(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	seconds := s.seconds[user]
	s.mu.Unlock()
	writeJSON(w, map[string]any{"data": map[string]any{
		"total_seconds": seconds,
		"text":          fmt.Sprintf("%.0f secs", seconds),
		"is_up_to_date": true,
	}})
}
