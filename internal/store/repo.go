package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	gormLogger := logger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(
		postgres.New(postgres.Config{DSN: dsn}),
		&gorm.Config{Logger: gormLogger, TranslateError: true},
	)
}

// New wraps db without touching the schema.
func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates or updates the tables this service owns.
func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Job{},
		&Application{},
		&ExternalApplication{},
		&ChatMessage{},
	)
}

// Ping checks database reachability for readiness checks.
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// sqlite without error translation
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- users ----

// UpsertUser inserts u or refreshes name and role of the existing row.
// Email is only written on insert; see UpdateUserEmail.
func (r *Repo) UpsertUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "role", "updated_at"}),
	}).Create(u).Error
}

func (r *Repo) UpdateUserEmail(ctx context.Context, id, email string) error {
	res := r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", id).
		Updates(map[string]any{"email": email, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ListUsers returns one page of users ordered by creation, optionally
// filtered by role, plus the total matching count.
func (r *Repo) ListUsers(ctx context.Context, role string, limit, offset int) ([]User, int64, error) {
	limit = clampLimit(limit, 50, 200)
	if offset < 0 {
		offset = 0
	}
	q := r.db.WithContext(ctx).Model(&User{})
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []User
	if err := q.Session(&gorm.Session{}).Order("created_at ASC, id ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ---- jobs ----

func (r *Repo) CreateJob(ctx context.Context, j *Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobStatusOpen
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *Repo) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

// SaveJob writes every column of an existing job.
func (r *Repo) SaveJob(ctx context.Context, j *Job) error {
	j.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", j.ID).
		Select("title", "company", "location", "remote", "description", "skills",
			"salary_min", "salary_max", "status", "closes_at", "updated_at").
		Updates(j)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes the job along with its applications and their chat threads.
func (r *Repo) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		appIDs := tx.Model(&Application{}).Select("id").Where("job_id = ?", id)
		if err := tx.Where("application_id IN (?)", appIDs).Delete(&ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id = ?", id).Delete(&Application{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Job{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type JobPage struct {
	Jobs       []Job  `json:"jobs"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListOpenJobs pages through open postings newest first. query matches
// title, company or location case-insensitively.
func (r *Repo) ListOpenJobs(ctx context.Context, query string, limit int, cursor *Cursor) (JobPage, error) {
	limit = clampLimit(limit, 20, 100)

	exprs := []clause.Expression{
		clause.Eq{Column: clause.Column{Name: "status"}, Value: JobStatusOpen},
	}
	if cursor != nil {
		exprs = append(exprs, clause.Or(
			clause.Lt{Column: clause.Column{Name: "created_at"}, Value: cursor.CreatedAt},
			clause.And(
				clause.Eq{Column: clause.Column{Name: "created_at"}, Value: cursor.CreatedAt},
				clause.Lt{Column: clause.Column{Name: "id"}, Value: cursor.ID},
			),
		))
	}

	q := r.db.WithContext(ctx).Model(&Job{}).Clauses(clause.Where{Exprs: exprs})
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(company) LIKE ? OR LOWER(location) LIKE ?)", like, like, like)
	}

	var jobs []Job
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&jobs).Error; err != nil {
		return JobPage{}, err
	}
	page := JobPage{Jobs: jobs}
	if len(jobs) > limit {
		page.Jobs = jobs[:limit]
		last := page.Jobs[limit-1]
		page.NextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (r *Repo) ListJobsByRecruiter(ctx context.Context, recruiterID string) ([]Job, error) {
	var jobs []Job
	err := r.db.WithContext(ctx).
		Where("recruiter_id = ?", recruiterID).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// CloseExpiredJobs marks open jobs whose closes_at is not after now as closed.
func (r *Repo) CloseExpiredJobs(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("status = ? AND closes_at IS NOT NULL AND closes_at <= ?", JobStatusOpen, now.UTC()).
		Updates(map[string]any{"status": JobStatusClosed, "updated_at": now.UTC()})
	return res.RowsAffected, res.Error
}

// ---- applications ----

// CreateApplication returns ErrConflict when the candidate already applied.
func (r *Repo) CreateApplication(ctx context.Context, a *Application) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AppStatusSubmitted
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *Repo) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	var a Application
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *Repo) ListApplicationsByJob(ctx context.Context, jobID uuid.UUID) ([]Application, error) {
	var apps []Application
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC").Find(&apps).Error
	return apps, err
}

func (r *Repo) ListApplicationsByCandidate(ctx context.Context, candidateID string) ([]Application, error) {
	var apps []Application
	err := r.db.WithContext(ctx).Where("candidate_id = ?", candidateID).Order("created_at DESC").Find(&apps).Error
	return apps, err
}

// UpdateApplicationStatus is a compare-and-set on status. It returns
// ErrConflict when the row moved on since the caller read it.
func (r *Repo) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	res := r.db.WithContext(ctx).
		Model(&Application{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetApplication(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *Repo) SetApplicationResume(ctx context.Context, id uuid.UUID, key string) error {
	res := r.db.WithContext(ctx).
		Model(&Application{}).
		Where("id = ?", id).
		Updates(map[string]any{"resume_key": key, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- external applications ----

func (r *Repo) CreateExternalApplication(ctx context.Context, e *ExternalApplication) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *Repo) ListExternalApplications(ctx context.Context, candidateID string) ([]ExternalApplication, error) {
	var out []ExternalApplication
	err := r.db.WithContext(ctx).Where("candidate_id = ?", candidateID).Order("created_at DESC").Find(&out).Error
	return out, err
}

// GetExternalApplication only finds rows owned by candidateID.
func (r *Repo) GetExternalApplication(ctx context.Context, candidateID string, id uuid.UUID) (*ExternalApplication, error) {
	var e ExternalApplication
	err := r.db.WithContext(ctx).Where("id = ? AND candidate_id = ?", id, candidateID).First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *Repo) SaveExternalApplication(ctx context.Context, e *ExternalApplication) error {
	e.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&ExternalApplication{}).
		Where("id = ? AND candidate_id = ?", e.ID, e.CandidateID).
		Select("company", "position", "url", "status", "applied_at", "notes", "updated_at").
		Updates(e)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteExternalApplication(ctx context.Context, candidateID string, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND candidate_id = ?", id, candidateID).Delete(&ExternalApplication{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- chat ----

func (r *Repo) AddChatMessage(ctx context.Context, m *ChatMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// ListChatMessages returns up to limit messages after since, oldest first.
func (r *Repo) ListChatMessages(ctx context.Context, applicationID uuid.UUID, since time.Time, limit int) ([]ChatMessage, error) {
	limit = clampLimit(limit, 100, 500)
	q := r.db.WithContext(ctx).Where("application_id = ?", applicationID)
	if !since.IsZero() {
		q = q.Where("created_at > ?", since.UTC())
	}
	var msgs []ChatMessage
	err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
