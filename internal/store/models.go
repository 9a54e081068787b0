package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusOpen   = "open"
	JobStatusClosed = "closed"
)

const (
	AppStatusSubmitted = "submitted"
	AppStatusReviewing = "reviewing"
	AppStatusInterview = "interview"
	AppStatusOffered   = "offered"
	AppStatusRejected  = "rejected"
	AppStatusWithdrawn = "withdrawn"
)

// User mirrors the identity provider's view of a caller. Rows are upserted
// from verified sessions; this service never assigns roles.
type User struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	Email     string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	Role      string    `gorm:"type:varchar(16);index" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;index:idx_jobs_created_id,priority:2" json:"id"`
	RecruiterID string         `gorm:"type:varchar(64);index" json:"recruiter_id"`
	Title       string         `gorm:"type:varchar(200)" json:"title"`
	Company     string         `gorm:"type:varchar(200)" json:"company"`
	Location    string         `gorm:"type:varchar(200)" json:"location"`
	Remote      bool           `json:"remote"`
	Description string         `gorm:"type:text" json:"description"`
	Skills      datatypes.JSON `gorm:"type:jsonb" json:"skills"`
	SalaryMin   *int           `json:"salary_min,omitempty"`
	SalaryMax   *int           `json:"salary_max,omitempty"`
	Status      string         `gorm:"type:varchar(16);index" json:"status"`
	ClosesAt    *time.Time     `gorm:"index" json:"closes_at,omitempty"`
	CreatedAt   time.Time      `gorm:"index:idx_jobs_created_id,priority:1" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Application struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID       uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_app_job_candidate,priority:1" json:"job_id"`
	CandidateID string    `gorm:"type:varchar(64);uniqueIndex:idx_app_job_candidate,priority:2" json:"candidate_id"`
	Status      string    `gorm:"type:varchar(16);index" json:"status"`
	CoverLetter string    `gorm:"type:text" json:"cover_letter,omitempty"`
	ResumeKey   string    `gorm:"type:varchar(512)" json:"resume_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExternalApplication tracks an application a candidate made elsewhere.
type ExternalApplication struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CandidateID string     `gorm:"type:varchar(64);index" json:"candidate_id"`
	Company     string     `gorm:"type:varchar(200)" json:"company"`
	Position    string     `gorm:"type:varchar(200)" json:"position"`
	URL         string     `gorm:"type:varchar(1024)" json:"url,omitempty"`
	Status      string     `gorm:"type:varchar(32)" json:"status"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
	Notes       string     `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ChatMessage struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ApplicationID uuid.UUID `gorm:"type:uuid;index:idx_chat_app_created,priority:1" json:"application_id"`
	SenderID      string    `gorm:"type:varchar(64)" json:"sender_id"`
	SenderRole    string    `gorm:"type:varchar(16)" json:"sender_role"`
	Body          string    `gorm:"type:text" json:"body"`
	CreatedAt     time.Time `gorm:"index:idx_chat_app_created,priority:2" json:"created_at"`
}

var applicationTransitions = map[string][]string{
	AppStatusSubmitted: {AppStatusReviewing, AppStatusRejected},
	AppStatusReviewing: {AppStatusInterview, AppStatusRejected},
	AppStatusInterview: {AppStatusOffered, AppStatusRejected},
}

// CanTransition reports whether a recruiter may move an application from
// one status to the next. Withdrawal is the candidate's move and is
// checked by CanWithdraw instead.
func CanTransition(from, to string) bool {
	for _, next := range applicationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanWithdraw(status string) bool {
	switch status {
	case AppStatusSubmitted, AppStatusReviewing, AppStatusInterview:
		return true
	}
	return false
}
