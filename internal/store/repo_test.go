package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := New(db)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func mustJob(t *testing.T, repo *Repo, j *Job) *Job {
	t.Helper()
	if err := repo.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func TestListOpenJobsCursor(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Engineer", Company: "Acme", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Closed role", Status: JobStatusClosed, CreatedAt: base.Add(time.Hour)})

	page1, err := repo.ListOpenJobs(ctx, "", 3, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1.Jobs) != 3 || page1.NextCursor == "" {
		t.Fatalf("page1 = %d jobs, cursor %q", len(page1.Jobs), page1.NextCursor)
	}
	if !page1.Jobs[0].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("expected newest first, got %s", page1.Jobs[0].CreatedAt)
	}

	cur, err := DecodeCursor(page1.NextCursor)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	page2, err := repo.ListOpenJobs(ctx, "", 3, cur)
	if err != nil {
		t.Fatalf("list page2: %v", err)
	}
	if len(page2.Jobs) != 2 || page2.NextCursor != "" {
		t.Fatalf("page2 = %d jobs, cursor %q", len(page2.Jobs), page2.NextCursor)
	}
	seen := map[uuid.UUID]bool{}
	for _, j := range append(page1.Jobs, page2.Jobs...) {
		if seen[j.ID] {
			t.Fatalf("job %s returned twice", j.ID)
		}
		seen[j.ID] = true
		if j.Status != JobStatusOpen {
			t.Fatalf("closed job listed: %+v", j)
		}
	}
}

func TestListOpenJobsQuery(t *testing.T) {
	repo := openTestRepo(t)
	mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Go Developer", Company: "Acme", Location: "Berlin"})
	mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Designer", Company: "Globex", Location: "Remote"})

	page, err := repo.ListOpenJobs(context.Background(), "berlin", 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Jobs) != 1 || page.Jobs[0].Title != "Go Developer" {
		t.Fatalf("jobs = %+v", page.Jobs)
	}
}

func TestCreateApplicationDuplicate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	job := mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Engineer"})

	if err := repo.CreateApplication(ctx, &Application{JobID: job.ID, CandidateID: "c1"}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	err := repo.CreateApplication(ctx, &Application{JobID: job.ID, CandidateID: "c1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := repo.CreateApplication(ctx, &Application{JobID: job.ID, CandidateID: "c2"}); err != nil {
		t.Fatalf("other candidate: %v", err)
	}
}

func TestUpdateApplicationStatusCompareAndSet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	job := mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Engineer"})
	app := &Application{JobID: job.ID, CandidateID: "c1"}
	if err := repo.CreateApplication(ctx, app); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpdateApplicationStatus(ctx, app.ID, AppStatusSubmitted, AppStatusReviewing); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := repo.UpdateApplicationStatus(ctx, app.ID, AppStatusSubmitted, AppStatusRejected); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update: %v", err)
	}
	if err := repo.UpdateApplicationStatus(ctx, uuid.New(), AppStatusSubmitted, AppStatusRejected); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing row: %v", err)
	}
	got, err := repo.GetApplication(ctx, app.ID)
	if err != nil || got.Status != AppStatusReviewing {
		t.Fatalf("get = %+v, %v", got, err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{AppStatusSubmitted, AppStatusReviewing, true},
		{AppStatusSubmitted, AppStatusOffered, false},
		{AppStatusReviewing, AppStatusInterview, true},
		{AppStatusInterview, AppStatusOffered, true},
		{AppStatusInterview, AppStatusRejected, true},
		{AppStatusOffered, AppStatusRejected, false},
		{AppStatusWithdrawn, AppStatusReviewing, false},
		{AppStatusSubmitted, AppStatusWithdrawn, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %t, want %t", tt.from, tt.to, got, tt.want)
		}
	}
	if !CanWithdraw(AppStatusInterview) || CanWithdraw(AppStatusOffered) {
		t.Error("CanWithdraw mismatch")
	}
}

func TestCloseExpiredJobs(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Old", ClosesAt: &past})
	open := mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Fresh", ClosesAt: &future})
	mustJob(t, repo, &Job{RecruiterID: "r1", Title: "No deadline"})

	n, err := repo.CloseExpiredJobs(ctx, now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed %d jobs, want 1", n)
	}
	if j, _ := repo.GetJob(ctx, expired.ID); j.Status != JobStatusClosed {
		t.Fatalf("expired job status = %s", j.Status)
	}
	if j, _ := repo.GetJob(ctx, open.ID); j.Status != JobStatusOpen {
		t.Fatalf("future job status = %s", j.Status)
	}
	if n, _ := repo.CloseExpiredJobs(ctx, now); n != 0 {
		t.Fatalf("second run closed %d", n)
	}
}

func TestDeleteJobCascades(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	job := mustJob(t, repo, &Job{RecruiterID: "r1", Title: "Engineer"})
	app := &Application{JobID: job.ID, CandidateID: "c1"}
	if err := repo.CreateApplication(ctx, app); err != nil {
		t.Fatal(err)
	}
	if err := repo.AddChatMessage(ctx, &ChatMessage{ApplicationID: app.ID, SenderID: "c1", Body: "hi"}); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetApplication(ctx, app.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("application survived: %v", err)
	}
	msgs, err := repo.ListChatMessages(ctx, app.ID, time.Time{}, 0)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("messages = %v, %v", msgs, err)
	}
	if err := repo.DeleteJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestExternalApplicationsScopedToCandidate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	e := &ExternalApplication{CandidateID: "c1", Company: "Initech", Position: "Analyst", Status: "applied"}
	if err := repo.CreateExternalApplication(ctx, e); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.GetExternalApplication(ctx, "c2", e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other candidate read: %v", err)
	}
	if err := repo.DeleteExternalApplication(ctx, "c2", e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other candidate delete: %v", err)
	}

	e.Status = "interviewing"
	if err := repo.SaveExternalApplication(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	list, err := repo.ListExternalApplications(ctx, "c1")
	if err != nil || len(list) != 1 || list[0].Status != "interviewing" {
		t.Fatalf("list = %+v, %v", list, err)
	}
}

func TestUpsertUserAndStats(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for _, u := range []User{
		{ID: "c1", Name: "Cara", Role: "CANDIDATE"},
		{ID: "c2", Name: "Cole", Role: "CANDIDATE"},
		{ID: "r1", Name: "Rita", Role: "RECRUITER"},
		{ID: "r2", Name: "Ravi", Role: "RECRUITER"},
	} {
		u := u
		if err := repo.UpsertUser(ctx, &u); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := repo.UpsertUser(ctx, &User{ID: "c1", Name: "Cara B.", Role: "CANDIDATE"}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if err := repo.UpdateUserEmail(ctx, "c1", "cara@example.com"); err != nil {
		t.Fatalf("email: %v", err)
	}
	if err := repo.UpsertUser(ctx, &User{ID: "c1", Name: "Cara B.", Role: "CANDIDATE"}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if u, _ := repo.GetUser(ctx, "c1"); u.Name != "Cara B." || u.Email != "cara@example.com" {
		t.Fatalf("user = %+v", u)
	}
	if err := repo.UpdateUserEmail(ctx, "nobody", "x@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}

	j1 := mustJob(t, repo, &Job{RecruiterID: "r1", Title: "A"})
	mustJob(t, repo, &Job{RecruiterID: "r1", Title: "B", Status: JobStatusClosed})
	j3 := mustJob(t, repo, &Job{RecruiterID: "r2", Title: "C"})
	for _, a := range []*Application{
		{JobID: j1.ID, CandidateID: "c1"},
		{JobID: j1.ID, CandidateID: "c2", Status: AppStatusReviewing},
		{JobID: j3.ID, CandidateID: "c1"},
	} {
		if err := repo.CreateApplication(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	ps, err := repo.PlatformStats(ctx)
	if err != nil {
		t.Fatalf("platform stats: %v", err)
	}
	if ps.TotalUsers != 4 || ps.UsersByRole["RECRUITER"] != 2 || ps.TotalJobs != 3 || ps.TotalApplications != 3 {
		t.Fatalf("platform stats = %+v", ps)
	}

	rs, err := repo.RecruiterStats(ctx, "r1")
	if err != nil {
		t.Fatalf("recruiter stats: %v", err)
	}
	if rs.TotalJobs != 2 || rs.JobsByStatus[JobStatusClosed] != 1 || rs.TotalApplications != 2 || rs.ApplicationsByStatus[AppStatusReviewing] != 1 {
		t.Fatalf("recruiter stats = %+v", rs)
	}

	users, total, err := repo.ListUsers(ctx, "CANDIDATE", 10, 0)
	if err != nil || total != 2 || len(users) != 2 {
		t.Fatalf("users = %v total=%d err=%v", users, total, err)
	}
}

func TestCursorRoundTripRejectsGarbage(t *testing.T) {
	if c, err := DecodeCursor(""); c != nil || err != nil {
		t.Fatalf("empty cursor = %v, %v", c, err)
	}
	if _, err := DecodeCursor("not-base64!"); err == nil {
		t.Fatal("expected error")
	}
}
