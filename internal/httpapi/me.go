package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/internal/validation"
	"github.com/Upreak/Upjobv1-sub001/pkg/roles"
)

type meResponse struct {
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Role      roles.Role   `json:"role"`
	Email     string       `json:"email,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
	ActsAs    []roles.Role `json:"acts_as"`
}

func (s *Server) me(r *http.Request) (meResponse, error) {
	sess := caller(r)
	out := meResponse{UserID: sess.UserID, Name: sess.Name, Role: sess.Role, ExpiresAt: sess.ExpiresAt, ActsAs: []roles.Role{}}
	for _, role := range roles.All() {
		if roles.IsAuthorized(sess.Role, role) {
			out.ActsAs = append(out.ActsAs, role)
		}
	}
	u, err := s.repo.GetUser(r.Context(), sess.UserID)
	switch {
	case err == nil:
		out.Email = u.Email
	case !errors.Is(err, store.ErrNotFound):
		return out, err
	}
	return out, nil
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	out, err := s.me(r)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type profilePayload struct {
	Email string `json:"email"`
}

// handlePutMe updates the contact address status notifications go to.
// Name and role always come from the identity provider.
func (s *Server) handlePutMe(w http.ResponseWriter, r *http.Request) {
	var p profilePayload
	if !s.decode(w, r, validation.Profile, &p) {
		return
	}
	sess := caller(r)
	err := s.repo.UpdateUserEmail(r.Context(), sess.UserID, p.Email)
	if errors.Is(err, store.ErrNotFound) {
		err = s.repo.UpsertUser(r.Context(), &store.User{ID: sess.UserID, Name: sess.Name, Role: string(sess.Role)})
		if err == nil {
			err = s.repo.UpdateUserEmail(r.Context(), sess.UserID, p.Email)
		}
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	out, err := s.me(r)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
