package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/access"
	"github.com/Upreak/Upjobv1-sub001/internal/middleware"
	"github.com/Upreak/Upjobv1-sub001/internal/notify"
	"github.com/Upreak/Upjobv1-sub001/internal/resume"
	"github.com/Upreak/Upjobv1-sub001/internal/session"
	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/internal/validation"
	"github.com/Upreak/Upjobv1-sub001/pkg/roles"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubResolver accepts "Bearer ROLE:user-id" tokens.
type stubResolver struct{}

func (stubResolver) Resolve(r *http.Request) (*session.Session, error) {
	tok := session.ExtractToken(r)
	if tok == "" {
		return nil, session.ErrNoCredentials
	}
	roleName, userID, ok := strings.Cut(tok, ":")
	role, valid := roles.Parse(roleName)
	if !ok || !valid || userID == "" {
		return nil, session.ErrInvalid
	}
	return &session.Session{UserID: userID, Name: "User " + userID, Role: role, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.StatusChange
}

func (n *recordingNotifier) ApplicationStatusChanged(_ context.Context, c notify.StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return nil
}

func (n *recordingNotifier) all() []notify.StatusChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.StatusChange(nil), n.sent...)
}

type fakeResumes struct{}

func (fakeResumes) UploadURL(_ context.Context, candidateID, contentType string) (*resume.Upload, error) {
	if contentType != "application/pdf" {
		return nil, resume.ErrUnsupportedType
	}
	return &resume.Upload{URL: "https://bucket.example/put", Key: "resumes/" + candidateID + "/r.pdf", Method: "PUT"}, nil
}

func (fakeResumes) DownloadURL(_ context.Context, key string) (string, error) {
	return "https://bucket.example/" + key, nil
}

func (fakeResumes) Owns(candidateID, key string) bool {
	return strings.HasPrefix(key, "resumes/"+candidateID+"/")
}

type testEnv struct {
	handler  http.Handler
	srv      *Server
	repo     *store.Repo
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, resumes resume.Store) *testEnv {
	t.Helper()
	dsn := "file:httpapi_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := store.New(db)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	table, err := access.NewTable([]access.RuleConfig{
		{Prefix: "/api/admin", Roles: []string{"ADMIN", "SUPER_ADMIN"}},
		{Prefix: "/api/recruiter", Roles: []string{"RECRUITER", "ADMIN", "SUPER_ADMIN"}},
		{Prefix: "/api/candidate", Roles: []string{"CANDIDATE"}},
		{Prefix: "/api/jobs", Authenticated: true},
		{Prefix: "/api/chat", Authenticated: true},
		{Prefix: "/api/me", Authenticated: true},
	})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if err := table.MustCover(ProtectedPrefixes()...); err != nil {
		t.Fatalf("coverage: %v", err)
	}
	v, err := validation.New()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	n := &recordingNotifier{}
	srv := NewServer(repo, table, v, Options{Notifier: n, Resumes: resumes, StatsTTL: time.Minute})
	r := chi.NewRouter()
	r.Use(middleware.Gate(table, stubResolver{}, middleware.GateOptions{}))
	srv.RegisterRoutes(r)
	return &testEnv{handler: r, srv: srv, repo: repo, notifier: n}
}

func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, want, w.Body.String())
	}
}

const (
	recruiterTok  = "RECRUITER:rec-1"
	otherRecTok   = "RECRUITER:rec-2"
	candidateTok  = "CANDIDATE:cand-1"
	otherCandTok  = "CANDIDATE:cand-2"
	adminTok      = "ADMIN:admin-1"
	superAdminTok = "SUPER_ADMIN:root"
)

func postJob(t *testing.T, e *testEnv, token string) store.Job {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/recruiter/jobs", token, map[string]any{
		"title":       "Backend Engineer",
		"company":     "Acme",
		"location":    "Berlin",
		"description": "Build services.",
		"skills":      []string{"go", "postgres"},
		"salary_min":  60000,
		"salary_max":  80000,
	})
	expectStatus(t, w, http.StatusCreated)
	var job store.Job
	decodeBody(t, w, &job)
	return job
}

func apply(t *testing.T, e *testEnv, token string, jobID string) store.Application {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/candidate/jobs/"+jobID+"/applications", token, map[string]any{"cover_letter": "Hi"})
	expectStatus(t, w, http.StatusCreated)
	var app store.Application
	decodeBody(t, w, &app)
	return app
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	expectStatus(t, e.do(t, http.MethodGet, "/api/health", "", nil), http.StatusOK)
}

func TestGroupsFollowRoleTable(t *testing.T) {
	e := newTestEnv(t, nil)
	cases := []struct {
		target string
		token  string
		want   int
	}{
		{"/api/jobs", "", http.StatusUnauthorized},
		{"/api/jobs", candidateTok, http.StatusOK},
		{"/api/recruiter/jobs", candidateTok, http.StatusForbidden},
		{"/api/recruiter/jobs", recruiterTok, http.StatusOK},
		{"/api/recruiter/jobs", adminTok, http.StatusOK},
		{"/api/admin/users", recruiterTok, http.StatusForbidden},
		{"/api/admin/users", superAdminTok, http.StatusOK},
		{"/api/candidate/applications", recruiterTok, http.StatusForbidden},
		{"/api/candidate/applications", candidateTok, http.StatusOK},
		{"/api/me", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		w := e.do(t, http.MethodGet, tc.target, tc.token, nil)
		if w.Code != tc.want {
			t.Errorf("GET %s as %q = %d, want %d", tc.target, tc.token, w.Code, tc.want)
		}
	}
}

func TestHiringFlow(t *testing.T) {
	e := newTestEnv(t, nil)

	expectStatus(t, e.do(t, http.MethodPut, "/api/me", candidateTok, map[string]any{"email": "cand@example.com"}), http.StatusOK)

	job := postJob(t, e, recruiterTok)
	if job.RecruiterID != "rec-1" || job.Status != store.JobStatusOpen {
		t.Fatalf("job = %+v", job)
	}

	w := e.do(t, http.MethodGet, "/api/jobs?q=backend", candidateTok, nil)
	expectStatus(t, w, http.StatusOK)
	var page store.JobPage
	decodeBody(t, w, &page)
	if len(page.Jobs) != 1 || page.Jobs[0].ID != job.ID {
		t.Fatalf("page = %+v", page)
	}

	app := apply(t, e, candidateTok, job.ID.String())
	if app.Status != store.AppStatusSubmitted {
		t.Fatalf("status = %q", app.Status)
	}
	w = e.do(t, http.MethodPost, "/api/candidate/jobs/"+job.ID.String()+"/applications", candidateTok, map[string]any{})
	expectStatus(t, w, http.StatusConflict)

	// Another recruiter cannot see or act on the posting's applicants.
	expectStatus(t, e.do(t, http.MethodGet, "/api/recruiter/jobs/"+job.ID.String()+"/applications", otherRecTok, nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPatch, "/api/recruiter/applications/"+app.ID.String()+"/status", otherRecTok, map[string]any{"status": "reviewing"}), http.StatusNotFound)

	w = e.do(t, http.MethodGet, "/api/recruiter/jobs/"+job.ID.String()+"/applications", recruiterTok, nil)
	expectStatus(t, w, http.StatusOK)
	var apps []store.Application
	decodeBody(t, w, &apps)
	if len(apps) != 1 || apps[0].CandidateID != "cand-1" {
		t.Fatalf("apps = %+v", apps)
	}

	w = e.do(t, http.MethodPatch, "/api/recruiter/applications/"+app.ID.String()+"/status", recruiterTok, map[string]any{"status": "reviewing", "note": "Looks good"})
	expectStatus(t, w, http.StatusOK)

	// Skipping the interview step is refused.
	w = e.do(t, http.MethodPatch, "/api/recruiter/applications/"+app.ID.String()+"/status", recruiterTok, map[string]any{"status": "offered"})
	expectStatus(t, w, http.StatusConflict)

	sent := e.notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %+v", sent)
	}
	if sent[0].CandidateEmail != "cand@example.com" || sent[0].Status != "reviewing" || sent[0].JobTitle != "Backend Engineer" || sent[0].Note != "Looks good" {
		t.Fatalf("notification = %+v", sent[0])
	}

	w = e.do(t, http.MethodGet, "/api/recruiter/stats", recruiterTok, nil)
	expectStatus(t, w, http.StatusOK)
	var st store.RecruiterStats
	decodeBody(t, w, &st)
	if st.TotalJobs != 1 || st.ApplicationsByStatus["reviewing"] != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestClosedJobsRejectApplications(t *testing.T) {
	e := newTestEnv(t, nil)
	job := postJob(t, e, recruiterTok)

	w := e.do(t, http.MethodPut, "/api/recruiter/jobs/"+job.ID.String(), recruiterTok, map[string]any{
		"title": "Backend Engineer", "company": "Acme", "description": "Filled.", "status": "closed",
	})
	expectStatus(t, w, http.StatusOK)

	expectStatus(t, e.do(t, http.MethodPost, "/api/candidate/jobs/"+job.ID.String()+"/applications", candidateTok, map[string]any{}), http.StatusConflict)
	expectStatus(t, e.do(t, http.MethodGet, "/api/jobs/"+job.ID.String(), candidateTok, nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodGet, "/api/jobs/"+job.ID.String(), recruiterTok, nil), http.StatusOK)
}

func TestJobValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodPost, "/api/recruiter/jobs", recruiterTok, map[string]any{"company": "Acme"})
	expectStatus(t, w, http.StatusBadRequest)
	var body jsonErr
	decodeBody(t, w, &body)
	if body.Code != http.StatusBadRequest || len(body.Details) == 0 {
		t.Fatalf("body = %+v", body)
	}

	w = e.do(t, http.MethodPost, "/api/recruiter/jobs", recruiterTok, map[string]any{
		"title": "Backend Engineer", "company": "Acme", "description": "x", "salary_min": 90, "salary_max": 10,
	})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestOnlyOwnerEditsJob(t *testing.T) {
	e := newTestEnv(t, nil)
	job := postJob(t, e, recruiterTok)
	expectStatus(t, e.do(t, http.MethodDelete, "/api/recruiter/jobs/"+job.ID.String(), otherRecTok, nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodDelete, "/api/recruiter/jobs/"+job.ID.String(), adminTok, nil), http.StatusNoContent)
	expectStatus(t, e.do(t, http.MethodGet, "/api/jobs/"+job.ID.String(), recruiterTok, nil), http.StatusNotFound)
}

func TestWithdraw(t *testing.T) {
	e := newTestEnv(t, nil)
	job := postJob(t, e, recruiterTok)
	app := apply(t, e, candidateTok, job.ID.String())

	expectStatus(t, e.do(t, http.MethodDelete, "/api/candidate/applications/"+app.ID.String(), otherCandTok, nil), http.StatusNotFound)
	w := e.do(t, http.MethodDelete, "/api/candidate/applications/"+app.ID.String(), candidateTok, nil)
	expectStatus(t, w, http.StatusOK)
	var got store.Application
	decodeBody(t, w, &got)
	if got.Status != store.AppStatusWithdrawn {
		t.Fatalf("status = %q", got.Status)
	}
	expectStatus(t, e.do(t, http.MethodDelete, "/api/candidate/applications/"+app.ID.String(), candidateTok, nil), http.StatusConflict)
	expectStatus(t, e.do(t, http.MethodPatch, "/api/recruiter/applications/"+app.ID.String()+"/status", recruiterTok, map[string]any{"status": "reviewing"}), http.StatusConflict)
}

func TestChatParticipants(t *testing.T) {
	e := newTestEnv(t, nil)
	job := postJob(t, e, recruiterTok)
	app := apply(t, e, candidateTok, job.ID.String())
	thread := "/api/chat/applications/" + app.ID.String() + "/messages"

	expectStatus(t, e.do(t, http.MethodPost, thread, candidateTok, map[string]any{"body": "When can we talk?"}), http.StatusCreated)
	expectStatus(t, e.do(t, http.MethodPost, thread, recruiterTok, map[string]any{"body": "Tomorrow."}), http.StatusCreated)
	expectStatus(t, e.do(t, http.MethodPost, thread, candidateTok, map[string]any{"body": ""}), http.StatusBadRequest)

	w := e.do(t, http.MethodGet, thread, recruiterTok, nil)
	expectStatus(t, w, http.StatusOK)
	var msgs []store.ChatMessage
	decodeBody(t, w, &msgs)
	if len(msgs) != 2 || msgs[0].SenderID != "cand-1" || msgs[1].SenderRole != "RECRUITER" {
		t.Fatalf("msgs = %+v", msgs)
	}

	expectStatus(t, e.do(t, http.MethodGet, thread, otherCandTok, nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodGet, thread, otherRecTok, nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodGet, thread, adminTok, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodPost, thread, adminTok, map[string]any{"body": "hello"}), http.StatusForbidden)
	expectStatus(t, e.do(t, http.MethodGet, thread+"?since=yesterday", candidateTok, nil), http.StatusBadRequest)
}

func TestAdminStatsAreCached(t *testing.T) {
	e := newTestEnv(t, nil)
	postJob(t, e, recruiterTok)

	w := e.do(t, http.MethodGet, "/api/admin/stats", adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	if w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first X-Cache = %q", w.Header().Get("X-Cache"))
	}
	var st store.PlatformStats
	decodeBody(t, w, &st)
	if st.TotalJobs != 1 || st.UsersByRole["RECRUITER"] != 1 || st.UsersByRole["ADMIN"] != 1 {
		t.Fatalf("stats = %+v", st)
	}

	w = e.do(t, http.MethodGet, "/api/admin/stats", adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	if w.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second X-Cache = %q", w.Header().Get("X-Cache"))
	}
}

func TestAdminStatsSkipCacheAfterConcurrentWrite(t *testing.T) {
	e := newTestEnv(t, nil)
	postJob(t, e, recruiterTok)

	count := e.srv.platformStats
	e.srv.platformStats = func(ctx context.Context) (*store.PlatformStats, error) {
		st, err := count(ctx)
		// a job posted after the counts were read
		postJob(t, e, recruiterTok)
		return st, err
	}
	w := e.do(t, http.MethodGet, "/api/admin/stats", adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	var st store.PlatformStats
	decodeBody(t, w, &st)
	if st.TotalJobs != 1 {
		t.Fatalf("first TotalJobs = %d", st.TotalJobs)
	}

	e.srv.platformStats = count
	w = e.do(t, http.MethodGet, "/api/admin/stats", adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	if w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("stale result was cached: X-Cache = %q", w.Header().Get("X-Cache"))
	}
	decodeBody(t, w, &st)
	if st.TotalJobs != 2 {
		t.Fatalf("second TotalJobs = %d", st.TotalJobs)
	}
}

func TestAdminListUsers(t *testing.T) {
	e := newTestEnv(t, nil)
	expectStatus(t, e.do(t, http.MethodGet, "/api/me", candidateTok, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, "/api/me", recruiterTok, nil), http.StatusOK)

	w := e.do(t, http.MethodGet, "/api/admin/users?role=CANDIDATE", adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	var list userList
	decodeBody(t, w, &list)
	if list.Total != 1 || len(list.Users) != 1 || list.Users[0].ID != "cand-1" {
		t.Fatalf("list = %+v", list)
	}
	expectStatus(t, e.do(t, http.MethodGet, "/api/admin/users?role=OWNER", adminTok, nil), http.StatusBadRequest)
}

func TestMeReportsInheritedRoles(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodGet, "/api/me", adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	var me meResponse
	decodeBody(t, w, &me)
	want := []roles.Role{roles.Candidate, roles.Recruiter, roles.Admin}
	if me.UserID != "admin-1" || len(me.ActsAs) != len(want) {
		t.Fatalf("me = %+v", me)
	}
	for i := range want {
		if me.ActsAs[i] != want[i] {
			t.Fatalf("acts_as = %v", me.ActsAs)
		}
	}
	expectStatus(t, e.do(t, http.MethodPut, "/api/me", adminTok, map[string]any{"email": "not-an-email"}), http.StatusBadRequest)
}

func TestExternalApplicationsAreScoped(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodPost, "/api/candidate/external-applications", candidateTok, map[string]any{
		"company": "Globex", "position": "SRE", "status": "applied", "url": "https://globex.example/jobs/1",
	})
	expectStatus(t, w, http.StatusCreated)
	var ext store.ExternalApplication
	decodeBody(t, w, &ext)

	target := "/api/candidate/external-applications/" + ext.ID.String()
	update := map[string]any{"company": "Globex", "position": "SRE", "status": "interviewing"}
	expectStatus(t, e.do(t, http.MethodPut, target, otherCandTok, update), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPut, target, candidateTok, update), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodPut, target, candidateTok, map[string]any{"company": "Globex", "position": "SRE", "status": "hired"}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodDelete, target, otherCandTok, nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodDelete, target, candidateTok, nil), http.StatusNoContent)
}

func TestResumeUploads(t *testing.T) {
	e := newTestEnv(t, nil)
	expectStatus(t, e.do(t, http.MethodPost, "/api/candidate/resume/upload-url", candidateTok, map[string]any{"content_type": "application/pdf"}), http.StatusServiceUnavailable)

	e = newTestEnv(t, fakeResumes{})
	w := e.do(t, http.MethodPost, "/api/candidate/resume/upload-url", candidateTok, map[string]any{"content_type": "application/pdf"})
	expectStatus(t, w, http.StatusOK)
	var up resume.Upload
	decodeBody(t, w, &up)
	expectStatus(t, e.do(t, http.MethodPost, "/api/candidate/resume/upload-url", candidateTok, map[string]any{"content_type": "image/png"}), http.StatusUnsupportedMediaType)

	job := postJob(t, e, recruiterTok)
	w = e.do(t, http.MethodPost, "/api/candidate/jobs/"+job.ID.String()+"/applications", otherCandTok, map[string]any{"resume_key": up.Key})
	expectStatus(t, w, http.StatusBadRequest)
	w = e.do(t, http.MethodPost, "/api/candidate/jobs/"+job.ID.String()+"/applications", candidateTok, map[string]any{"resume_key": up.Key})
	expectStatus(t, w, http.StatusCreated)
}

func TestAttachResume(t *testing.T) {
	e := newTestEnv(t, nil)
	job := postJob(t, e, recruiterTok)
	app := apply(t, e, candidateTok, job.ID.String())
	target := "/api/candidate/applications/" + app.ID.String() + "/resume"
	expectStatus(t, e.do(t, http.MethodPut, target, candidateTok, map[string]any{"resume_key": "resumes/cand-1/r.pdf"}), http.StatusServiceUnavailable)

	e = newTestEnv(t, fakeResumes{})
	job = postJob(t, e, recruiterTok)
	app = apply(t, e, candidateTok, job.ID.String())
	target = "/api/candidate/applications/" + app.ID.String() + "/resume"

	expectStatus(t, e.do(t, http.MethodPut, target, otherCandTok, map[string]any{"resume_key": "resumes/cand-2/r.pdf"}), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPut, target, candidateTok, map[string]any{"resume_key": "resumes/cand-2/r.pdf"}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodPut, target, candidateTok, map[string]any{}), http.StatusBadRequest)

	w := e.do(t, http.MethodPut, target, candidateTok, map[string]any{"resume_key": "resumes/cand-1/r.pdf"})
	expectStatus(t, w, http.StatusOK)
	stored, err := e.repo.GetApplication(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if stored.ResumeKey != "resumes/cand-1/r.pdf" {
		t.Fatalf("resume_key = %q", stored.ResumeKey)
	}

	expectStatus(t, e.do(t, http.MethodDelete, "/api/candidate/applications/"+app.ID.String(), candidateTok, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodPut, target, candidateTok, map[string]any{"resume_key": "resumes/cand-1/r.pdf"}), http.StatusConflict)
}
