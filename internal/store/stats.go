package store

import (
	"context"

	"gorm.io/gorm"
)

type PlatformStats struct {
	UsersByRole          map[string]int64 `json:"users_by_role"`
	JobsByStatus         map[string]int64 `json:"jobs_by_status"`
	ApplicationsByStatus map[string]int64 `json:"applications_by_status"`
	TotalUsers           int64            `json:"total_users"`
	TotalJobs            int64            `json:"total_jobs"`
	TotalApplications    int64            `json:"total_applications"`
}

type RecruiterStats struct {
	JobsByStatus         map[string]int64 `json:"jobs_by_status"`
	ApplicationsByStatus map[string]int64 `json:"applications_by_status"`
	TotalJobs            int64            `json:"total_jobs"`
	TotalApplications    int64            `json:"total_applications"`
}

type countRow struct {
	K string
	N int64
}

func groupCounts(q *gorm.DB, column string) (map[string]int64, int64, error) {
	var rows []countRow
	if err := q.Select(column + " AS k, COUNT(*) AS n").Group(column).Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		out[row.K] = row.N
		total += row.N
	}
	return out, total, nil
}

func (r *Repo) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	db := r.db.WithContext(ctx)
	var (
		s   PlatformStats
		err error
	)
	if s.UsersByRole, s.TotalUsers, err = groupCounts(db.Model(&User{}), "role"); err != nil {
		return nil, err
	}
	if s.JobsByStatus, s.TotalJobs, err = groupCounts(db.Model(&Job{}), "status"); err != nil {
		return nil, err
	}
	if s.ApplicationsByStatus, s.TotalApplications, err = groupCounts(db.Model(&Application{}), "status"); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) RecruiterStats(ctx context.Context, recruiterID string) (*RecruiterStats, error) {
	db := r.db.WithContext(ctx)
	var (
		s   RecruiterStats
		err error
	)
	jobs := db.Model(&Job{}).Where("recruiter_id = ?", recruiterID)
	if s.JobsByStatus, s.TotalJobs, err = groupCounts(jobs, "status"); err != nil {
		return nil, err
	}
	apps := db.Model(&Application{}).
		Joins("JOIN jobs ON jobs.id = applications.job_id").
		Where("jobs.recruiter_id = ?", recruiterID)
	if s.ApplicationsByStatus, s.TotalApplications, err = groupCounts(apps, "applications.status"); err != nil {
		return nil, err
	}
	return &s, nil
}
