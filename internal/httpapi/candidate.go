package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/resume"
	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/internal/validation"
)

type applicationPayload struct {
	CoverLetter string `json:"cover_letter"`
	ResumeKey   string `json:"resume_key"`
}

func (s *Server) handleListMyApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.repo.ListApplicationsByCandidate(r.Context(), caller(r).UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if apps == nil {
		apps = []store.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	sess := caller(r)
	job, err := s.repo.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if job.Status != store.JobStatusOpen {
		writeError(w, http.StatusConflict, "job is not accepting applications")
		return
	}

	var p applicationPayload
	if !s.decode(w, r, validation.Application, &p) {
		return
	}
	if p.ResumeKey != "" && (s.resumes == nil || !s.resumes.Owns(sess.UserID, p.ResumeKey)) {
		writeJSON(w, http.StatusBadRequest, jsonErr{Error: "invalid payload", Code: http.StatusBadRequest, Details: []string{"resume_key was not issued to this account"}})
		return
	}

	app := &store.Application{
		JobID:       job.ID,
		CandidateID: sess.UserID,
		CoverLetter: p.CoverLetter,
		ResumeKey:   p.ResumeKey,
	}
	if err := s.repo.CreateApplication(r.Context(), app); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "already applied to this job")
			return
		}
		writeStoreError(w, r, err)
		return
	}
	s.flushStats()
	slog.Info("application submitted", "application", app.ID, "job", job.ID, "candidate", sess.UserID)
	writeJSON(w, http.StatusCreated, app)
}

// handleWithdraw lets a candidate pull an application that is still in play.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "appID")
	if !ok {
		return
	}
	app, err := s.repo.GetApplication(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if app.CandidateID != caller(r).UserID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !store.CanWithdraw(app.Status) {
		writeError(w, http.StatusConflict, "application can no longer be withdrawn")
		return
	}
	if err := s.repo.UpdateApplicationStatus(r.Context(), app.ID, app.Status, store.AppStatusWithdrawn); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.flushStats()
	s.hub.Publish(app.ID, "application.status", map[string]string{"status": store.AppStatusWithdrawn, "previous": app.Status})
	app.Status = store.AppStatusWithdrawn
	writeJSON(w, http.StatusOK, app)
}

type attachResumePayload struct {
	ResumeKey string `json:"resume_key"`
}

// handleAttachResume swaps the resume on an application that is still in play.
func (s *Server) handleAttachResume(w http.ResponseWriter, r *http.Request) {
	if s.resumes == nil {
		writeError(w, http.StatusServiceUnavailable, resume.ErrNotConfigured.Error())
		return
	}
	id, ok := pathUUID(w, r, "appID")
	if !ok {
		return
	}
	sess := caller(r)
	app, err := s.repo.GetApplication(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if app.CandidateID != sess.UserID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	var p attachResumePayload
	if !s.decode(w, r, validation.ApplicationResume, &p) {
		return
	}
	if !s.resumes.Owns(sess.UserID, p.ResumeKey) {
		writeJSON(w, http.StatusBadRequest, jsonErr{Error: "invalid payload", Code: http.StatusBadRequest, Details: []string{"resume_key was not issued to this account"}})
		return
	}
	if !store.CanWithdraw(app.Status) {
		writeError(w, http.StatusConflict, "application is closed")
		return
	}
	if err := s.repo.SetApplicationResume(r.Context(), app.ID, p.ResumeKey); err != nil {
		writeStoreError(w, r, err)
		return
	}
	app.ResumeKey = p.ResumeKey
	writeJSON(w, http.StatusOK, app)
}

type resumeUploadPayload struct {
	ContentType string `json:"content_type"`
}

func (s *Server) handleResumeUploadURL(w http.ResponseWriter, r *http.Request) {
	if s.resumes == nil {
		writeError(w, http.StatusServiceUnavailable, resume.ErrNotConfigured.Error())
		return
	}
	var p resumeUploadPayload
	if !s.decode(w, r, validation.ResumeUpload, &p) {
		return
	}
	up, err := s.resumes.UploadURL(r.Context(), caller(r).UserID, p.ContentType)
	if err != nil {
		if errors.Is(err, resume.ErrUnsupportedType) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		slog.Error("presign resume upload failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not create upload url")
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// ---- external applications ----

type externalPayload struct {
	Company   string     `json:"company"`
	Position  string     `json:"position"`
	URL       string     `json:"url"`
	Status    string     `json:"status"`
	AppliedAt *time.Time `json:"applied_at"`
	Notes     string     `json:"notes"`
}

func (p externalPayload) apply(e *store.ExternalApplication) {
	e.Company = p.Company
	e.Position = p.Position
	e.URL = p.URL
	e.Status = p.Status
	e.AppliedAt = p.AppliedAt
	e.Notes = p.Notes
}

func (s *Server) handleListExternal(w http.ResponseWriter, r *http.Request) {
	out, err := s.repo.ListExternalApplications(r.Context(), caller(r).UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if out == nil {
		out = []store.ExternalApplication{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateExternal(w http.ResponseWriter, r *http.Request) {
	var p externalPayload
	if !s.decode(w, r, validation.ExternalApplication, &p) {
		return
	}
	e := &store.ExternalApplication{CandidateID: caller(r).UserID}
	p.apply(e)
	if err := s.repo.CreateExternalApplication(r.Context(), e); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateExternal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "extID")
	if !ok {
		return
	}
	e, err := s.repo.GetExternalApplication(r.Context(), caller(r).UserID, id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	var p externalPayload
	if !s.decode(w, r, validation.ExternalApplication, &p) {
		return
	}
	p.apply(e)
	if err := s.repo.SaveExternalApplication(r.Context(), e); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExternal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "extID")
	if !ok {
		return
	}
	if err := s.repo.DeleteExternalApplication(r.Context(), caller(r).UserID, id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
