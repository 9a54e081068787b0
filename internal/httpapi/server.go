package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/access"
	"github.com/Upreak/Upjobv1-sub001/internal/middleware"
	"github.com/Upreak/Upjobv1-sub001/internal/notify"
	"github.com/Upreak/Upjobv1-sub001/internal/realtime"
	"github.com/Upreak/Upjobv1-sub001/internal/resume"
	"github.com/Upreak/Upjobv1-sub001/internal/session"
	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/internal/validation"
	"github.com/Upreak/Upjobv1-sub001/pkg/roles"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Rule prefixes the API groups are mounted under. Each must have an entry
// in the access table; see ProtectedPrefixes.
const (
	prefixJobs      = "/api/jobs"
	prefixMe        = "/api/me"
	prefixRecruiter = "/api/recruiter"
	prefixCandidate = "/api/candidate"
	prefixAdmin     = "/api/admin"
	prefixChat      = "/api/chat"
)

// ProtectedPrefixes lists every API group that requires a rule. Startup
// fails when the access table does not cover one of them.
func ProtectedPrefixes() []string {
	return []string{prefixJobs, prefixMe, prefixRecruiter, prefixCandidate, prefixAdmin, prefixChat}
}

type Server struct {
	repo      *store.Repo
	table     *access.Table
	validator *validation.Validator
	notifier  notify.Notifier
	resumes   resume.Store
	hub       *realtime.Hub

	stats      *cache.Cache
	statsGroup singleflight.Group
	// bumped on every flush so an in-flight query can tell its result is stale
	statsGen      atomic.Uint64
	platformStats func(context.Context) (*store.PlatformStats, error)
	// users whose profile row was synced recently
	seenUsers *cache.Cache
}

type Options struct {
	Notifier notify.Notifier
	// Resumes is optional; resume endpoints answer 503 without it.
	Resumes  resume.Store
	Hub      *realtime.Hub
	StatsTTL time.Duration
}

func NewServer(repo *store.Repo, table *access.Table, validator *validation.Validator, opts Options) *Server {
	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	hub := opts.Hub
	if hub == nil {
		hub = realtime.NewHub(nil)
	}
	ttl := opts.StatsTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &Server{
		repo:          repo,
		table:         table,
		validator:     validator,
		notifier:      n,
		resumes:       opts.Resumes,
		hub:           hub,
		stats:         cache.New(ttl, 2*ttl),
		platformStats: repo.PlatformStats,
		seenUsers:     cache.New(10*time.Minute, 20*time.Minute),
	}
}

// flushStats drops cached platform stats after a write.
func (s *Server) flushStats() {
	s.statsGen.Add(1)
	s.stats.Flush()
}

type jsonErr struct {
	Error   string   `json:"error"`
	Code    int      `json:"code"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}

// writeStoreError maps repository errors onto responses without exposing
// database detail.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		slog.Error("store error", "method", r.Method, "path", r.URL.Path, "correlation_id", middleware.GetCorrelationID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, kind validation.Kind, dst any) bool {
	err := s.validator.Decode(r.Body, kind, dst)
	if err == nil {
		return true
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, jsonErr{Error: "invalid payload", Code: http.StatusBadRequest, Details: verr.Problems})
		return false
	}
	slog.Error("decode failed", "kind", kind, "error", err)
	writeError(w, http.StatusBadRequest, "invalid payload")
	return false
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// caller is non-nil inside every rule-protected group.
func caller(r *http.Request) *session.Session {
	return middleware.GetSession(r)
}

// isAdmin is the override for resource ownership checks.
func isAdmin(s *session.Session) bool {
	return s != nil && roles.IsAuthorized(s.Role, roles.Admin)
}

// RegisterRoutes mounts the API on a router that already runs the gate.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.syncUser)

		r.Route(prefixJobs, func(r chi.Router) {
			r.Use(middleware.RequireRule(s.table, prefixJobs))
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
		})

		r.Route(prefixMe, func(r chi.Router) {
			r.Use(middleware.RequireRule(s.table, prefixMe))
			r.Get("/", s.handleGetMe)
			r.Put("/", s.handlePutMe)
		})

		r.Route(prefixRecruiter, func(r chi.Router) {
			r.Use(middleware.RequireRule(s.table, prefixRecruiter))
			r.Get("/stats", s.handleRecruiterStats)
			r.Get("/jobs", s.handleListOwnJobs)
			r.Post("/jobs", s.handleCreateJob)
			r.Put("/jobs/{jobID}", s.handleUpdateJob)
			r.Delete("/jobs/{jobID}", s.handleDeleteJob)
			r.Get("/jobs/{jobID}/applications", s.handleListJobApplications)
			r.Patch("/applications/{appID}/status", s.handleChangeApplicationStatus)
		})

		r.Route(prefixCandidate, func(r chi.Router) {
			r.Use(middleware.RequireRule(s.table, prefixCandidate))
			r.Get("/applications", s.handleListMyApplications)
			r.Post("/jobs/{jobID}/applications", s.handleApply)
			r.Delete("/applications/{appID}", s.handleWithdraw)
			r.Put("/applications/{appID}/resume", s.handleAttachResume)
			r.Post("/resume/upload-url", s.handleResumeUploadURL)

			r.Get("/external-applications", s.handleListExternal)
			r.Post("/external-applications", s.handleCreateExternal)
			r.Put("/external-applications/{extID}", s.handleUpdateExternal)
			r.Delete("/external-applications/{extID}", s.handleDeleteExternal)
		})

		r.Route(prefixAdmin, func(r chi.Router) {
			r.Use(middleware.RequireRule(s.table, prefixAdmin))
			r.Get("/stats", s.handleAdminStats)
			r.Get("/users", s.handleListUsers)
		})

		r.Route(prefixChat, func(r chi.Router) {
			r.Use(middleware.RequireRule(s.table, prefixChat))
			r.Get("/applications/{appID}/messages", s.handleListMessages)
			r.Post("/applications/{appID}/messages", s.handlePostMessage)
			r.Get("/applications/{appID}/ws", s.handleChatStream)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// syncUser mirrors the caller's identity into the users table at most once
// per cache window.
func (s *Server) syncUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := caller(r)
		if sess != nil {
			key := sess.UserID + "|" + string(sess.Role) + "|" + sess.Name
			if _, ok := s.seenUsers.Get(key); !ok {
				u := &store.User{ID: sess.UserID, Name: sess.Name, Role: string(sess.Role)}
				if err := s.repo.UpsertUser(r.Context(), u); err != nil {
					slog.Warn("user sync failed", "user", sess.UserID, "error", err)
				} else {
					s.seenUsers.SetDefault(key, struct{}{})
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
