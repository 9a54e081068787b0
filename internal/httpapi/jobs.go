package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/notify"
	"github.com/Upreak/Upjobv1-sub001/internal/session"
	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/internal/validation"

	"gorm.io/datatypes"
)

type jobPayload struct {
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Location    string     `json:"location"`
	Remote      bool       `json:"remote"`
	Description string     `json:"description"`
	Skills      []string   `json:"skills"`
	SalaryMin   *int       `json:"salary_min"`
	SalaryMax   *int       `json:"salary_max"`
	Status      string     `json:"status"`
	ClosesAt    *time.Time `json:"closes_at"`
}

func (p jobPayload) apply(j *store.Job) {
	skills := p.Skills
	if skills == nil {
		skills = []string{}
	}
	raw, _ := json.Marshal(skills)
	j.Title = p.Title
	j.Company = p.Company
	j.Location = p.Location
	j.Remote = p.Remote
	j.Description = p.Description
	j.Skills = datatypes.JSON(raw)
	j.SalaryMin = p.SalaryMin
	j.SalaryMax = p.SalaryMax
	if p.Status != "" {
		j.Status = p.Status
	}
	j.ClosesAt = p.ClosesAt
}

func (s *Server) decodeJob(w http.ResponseWriter, r *http.Request) (jobPayload, bool) {
	var p jobPayload
	if !s.decode(w, r, validation.Job, &p) {
		return p, false
	}
	if p.SalaryMin != nil && p.SalaryMax != nil && *p.SalaryMin > *p.SalaryMax {
		writeJSON(w, http.StatusBadRequest, jsonErr{Error: "invalid payload", Code: http.StatusBadRequest, Details: []string{"salary_min must not exceed salary_max"}})
		return p, false
	}
	return p, true
}

// canManageJob reports whether sess may edit j or see its applicants.
func canManageJob(sess *session.Session, j *store.Job) bool {
	return isAdmin(sess) || (sess != nil && j.RecruiterID == sess.UserID)
}

// ---- public board ----

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var cursor *store.Cursor
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		c, err := store.DecodeCursor(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = c
	}
	page, err := s.repo.ListOpenJobs(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"), cursor)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if page.Jobs == nil {
		page.Jobs = []store.Job{}
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetJob shows open postings to everyone on the board. Closed ones are
// only visible to their recruiter and admins.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := s.repo.GetJob(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if job.Status != store.JobStatusOpen && !canManageJob(caller(r), job) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ---- recruiter ----

func (s *Server) handleListOwnJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.repo.ListJobsByRecruiter(r.Context(), caller(r).UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	p, ok := s.decodeJob(w, r)
	if !ok {
		return
	}
	job := &store.Job{RecruiterID: caller(r).UserID}
	p.apply(job)
	if err := s.repo.CreateJob(r.Context(), job); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.flushStats()
	slog.Info("job created", "job", job.ID, "recruiter", job.RecruiterID)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := s.repo.GetJob(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !canManageJob(caller(r), job) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	p, ok := s.decodeJob(w, r)
	if !ok {
		return
	}
	p.apply(job)
	if err := s.repo.SaveJob(r.Context(), job); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.flushStats()
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := s.repo.GetJob(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !canManageJob(caller(r), job) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := s.repo.DeleteJob(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.flushStats()
	slog.Info("job deleted", "job", id, "by", caller(r).UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobApplications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := s.repo.GetJob(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !canManageJob(caller(r), job) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	apps, err := s.repo.ListApplicationsByJob(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if apps == nil {
		apps = []store.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

type statusChangePayload struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) handleChangeApplicationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "appID")
	if !ok {
		return
	}
	ctx := r.Context()
	app, err := s.repo.GetApplication(ctx, id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	job, err := s.repo.GetJob(ctx, app.JobID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !canManageJob(caller(r), job) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var p statusChangePayload
	if !s.decode(w, r, validation.StatusChange, &p) {
		return
	}
	if !store.CanTransition(app.Status, p.Status) {
		writeError(w, http.StatusConflict, "cannot move application from "+app.Status+" to "+p.Status)
		return
	}
	if err := s.repo.UpdateApplicationStatus(ctx, app.ID, app.Status, p.Status); err != nil {
		writeStoreError(w, r, err)
		return
	}
	prev := app.Status
	app.Status = p.Status
	s.flushStats()
	slog.Info("application status changed", "application", app.ID, "from", prev, "to", p.Status, "by", caller(r).UserID)

	s.hub.Publish(app.ID, "application.status", map[string]string{"status": p.Status, "previous": prev})

	candidate, err := s.repo.GetUser(ctx, app.CandidateID)
	if err != nil {
		slog.Warn("candidate lookup for notification failed", "application", app.ID, "error", err)
	} else if candidate.Email != "" {
		err := s.notifier.ApplicationStatusChanged(ctx, notify.StatusChange{
			CandidateName:  candidate.Name,
			CandidateEmail: candidate.Email,
			JobTitle:       job.Title,
			Company:        job.Company,
			Status:         p.Status,
			Note:           p.Note,
		})
		if err != nil {
			slog.Warn("status notification failed", "application", app.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleRecruiterStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.repo.RecruiterStats(r.Context(), caller(r).UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
