package httpapi

import (
	"context"
	"net/http"

	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/pkg/roles"
)

const platformStatsKey = "platform"

// handleAdminStats serves platform counters from a short-lived cache.
// Concurrent misses share a single set of queries.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if v, ok := s.stats.Get(platformStatsKey); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, v)
		return
	}
	v, err, _ := s.statsGroup.Do(platformStatsKey, func() (any, error) {
		gen := s.statsGen.Load()
		st, err := s.platformStats(context.WithoutCancel(r.Context()))
		if err != nil {
			return nil, err
		}
		// A write landed while counting; serve the result but don't cache it.
		if s.statsGen.Load() == gen {
			s.stats.SetDefault(platformStatsKey, st)
		}
		return st, nil
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, v.(*store.PlatformStats))
}

type userList struct {
	Users  []store.User `json:"users"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" {
		if _, ok := roles.Parse(role); !ok {
			writeError(w, http.StatusBadRequest, "unknown role")
			return
		}
	}
	limit := queryInt(r, "limit")
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset")
	if offset < 0 {
		offset = 0
	}
	users, total, err := s.repo.ListUsers(r.Context(), role, limit, offset)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, userList{Users: users, Total: total, Limit: limit, Offset: offset})
}
