package httpapi

import (
	"net/http"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/session"
	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/internal/validation"
)

// thread resolves the application behind a chat route and reports whether
// the caller is one of its two participants. Callers who are neither a
// participant nor an admin get a 404 and ok=false.
func (s *Server) thread(w http.ResponseWriter, r *http.Request) (app *store.Application, participant bool, ok bool) {
	id, ok := pathUUID(w, r, "appID")
	if !ok {
		return nil, false, false
	}
	app, err := s.repo.GetApplication(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return nil, false, false
	}
	sess := caller(r)
	participant, err = s.isParticipant(r, sess, app)
	if err != nil {
		writeStoreError(w, r, err)
		return nil, false, false
	}
	if !participant && !isAdmin(sess) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false, false
	}
	return app, participant, true
}

func (s *Server) isParticipant(r *http.Request, sess *session.Session, app *store.Application) (bool, error) {
	if sess.UserID == app.CandidateID {
		return true, nil
	}
	job, err := s.repo.GetJob(r.Context(), app.JobID)
	if err != nil {
		return false, err
	}
	return job.RecruiterID == sess.UserID, nil
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	app, _, ok := s.thread(w, r)
	if !ok {
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	msgs, err := s.repo.ListChatMessages(r.Context(), app.ID, since, queryInt(r, "limit"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type chatPayload struct {
	Body string `json:"body"`
}

// handlePostMessage is open to the two participants only. Admins can read
// a thread but not speak in it.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	app, participant, ok := s.thread(w, r)
	if !ok {
		return
	}
	if !participant {
		writeError(w, http.StatusForbidden, "only participants can post")
		return
	}
	var p chatPayload
	if !s.decode(w, r, validation.ChatMessage, &p) {
		return
	}
	sess := caller(r)
	msg := &store.ChatMessage{
		ApplicationID: app.ID,
		SenderID:      sess.UserID,
		SenderRole:    string(sess.Role),
		Body:          p.Body,
	}
	if err := s.repo.AddChatMessage(r.Context(), msg); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.hub.Publish(app.ID, "chat.message", msg)
	writeJSON(w, http.StatusCreated, msg)
}

// handleChatStream upgrades to a websocket subscribed to the thread's events.
// The stream is closed when the caller's token expires.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	app, _, ok := s.thread(w, r)
	if !ok {
		return
	}
	s.hub.Serve(w, r, app.ID, caller(r).ExpiresAt)
}
