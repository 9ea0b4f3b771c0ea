// SPDX-License-Identifier: GPL-3.0-or-later
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"

	"github.com/sirupsen/logrus"
)

const (
	ShutdownTimeout = 5 * time.Second
	HealthTimeout   = 2 * time.Second
)

// StatusFunc reports the sync state per account.
type StatusFunc func() map[string]string

type Server struct {
	listen string
	store  domain.Persistence
	status StatusFunc
	now    func() time.Time

	l *logrus.Logger
}

func NewServer(listen string, store domain.Persistence, status StatusFunc) *Server {
	return &Server{
		listen: listen,
		store:  store,
		status: status,
		now:    time.Now,
		l:      log.Logger(log.LOG_API),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/emails", s.method(http.MethodGet, s.list))
	mux.HandleFunc("/api/emails/", s.method(http.MethodGet, s.list))
	mux.HandleFunc("/api/emails/search", s.method(http.MethodGet, s.search))
	mux.HandleFunc("/api/emails/accounts", s.method(http.MethodGet, s.accounts))
	mux.HandleFunc("/api/emails/health", s.method(http.MethodGet, s.health))
	mux.HandleFunc("/api/emails/status", s.method(http.MethodGet, s.syncStatus))
	mux.HandleFunc("/api/emails/cleanup-duplicates", s.method(http.MethodPost, s.cleanupDuplicates))

	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.listen, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ln)
	}()
	s.l.WithField("listen", ln.Addr().String()).Info("Serving api")

	select {
	case err := <-done:
		return fmt.Errorf("api server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("could not shut down api server: %w", err)
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.l.Info("Api stopped")
	return nil
}

func (s *Server) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			s.writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"success": false, "error": "method not allowed"})
			return
		}
		h(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.l.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("Handled request")
	})
}

type emailJSON struct {
	Id         string   `json:"id"`
	Account    string   `json:"account"`
	Folder     string   `json:"folder"`
	Mailbox    string   `json:"mailbox"`
	Uid        uint32   `json:"uid"`
	Subject    string   `json:"subject"`
	From       string   `json:"from"`
	Recipients []string `json:"to"`
	Date       string   `json:"date"`
	Body       string   `json:"body"`
	Category   string   `json:"category"`
	IndexedAt  string   `json:"indexedAt"`
}

func toJSON(records []*domain.EmailRecord) []*emailJSON {
	emails := make([]*emailJSON, 0, len(records))
	for _, r := range records {
		emails = append(emails, &emailJSON{
			Id:         r.Key,
			Account:    r.Account,
			Folder:     r.Folder,
			Mailbox:    r.Mailbox,
			Uid:        r.Uid,
			Subject:    r.Subject,
			From:       r.From,
			Recipients: r.Recipients,
			Date:       r.Date.UTC().Format(time.RFC3339),
			Body:       r.Body,
			Category:   string(r.Category),
			IndexedAt:  r.IndexedAt.UTC().Format(time.RFC3339),
		})
	}
	return emails
}

type filters struct {
	Account *string `json:"account"`
	Query   *string `json:"query"`
}

func optional(v string) *string {
	if len(v) == 0 {
		return nil
	}
	return &v
}

func (s *Server) query(r *http.Request) (domain.SearchQuery, filters) {
	values := r.URL.Query()
	q := strings.TrimSpace(values.Get("q"))
	account := strings.TrimSpace(values.Get("account"))
	limit, _ := strconv.Atoi(values.Get("limit"))

	return domain.SearchQuery{Text: q, Account: account, Limit: limit},
		filters{Account: optional(account), Query: optional(q)}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/emails" && r.URL.Path != "/api/emails/" {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "not found"})
		return
	}

	query, f := s.query(r)
	records, err := s.store.Search(r.Context(), query)
	if err != nil {
		s.serverError(w, "list", err)
		return
	}

	accounts := []string{}
	seen := map[string]bool{}
	for _, rec := range records {
		if !seen[rec.Account] {
			seen[rec.Account] = true
			accounts = append(accounts, rec.Account)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    toJSON(records),
		"filters": f,
		"count":   len(records),
		"metadata": map[string]interface{}{
			"total":       len(records),
			"accounts":    accounts,
			"lastUpdated": s.now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query, f := s.query(r)
	records, err := s.store.Search(r.Context(), query)
	if err != nil {
		s.serverError(w, "search", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    toJSON(records),
		"filters": f,
		"count":   len(records),
	})
}

func (s *Server) accounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.Accounts(r.Context())
	if err != nil {
		s.serverError(w, "accounts", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"accounts": accounts,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	err := s.store.Ping(ctx)
	if err != nil {
		s.l.WithField("error", err).Warn("Health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("UNAVAILABLE"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	states := map[string]string{}
	if s.status != nil {
		states = s.status()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"accounts": states,
	})
}

func (s *Server) cleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.RemoveDuplicates(r.Context())
	if err != nil {
		s.serverError(w, "cleanup-duplicates", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Removed %d duplicates", removed),
		"removed": removed,
	})
}

func (s *Server) serverError(w http.ResponseWriter, endpoint string, err error) {
	s.l.WithFields(logrus.Fields{"endpoint": endpoint, "error": err}).Error("Request failed")
	s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"success": false,
		"error":   "server error",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.l.WithField("error", err).Warn("Could not write response")
	}
}
