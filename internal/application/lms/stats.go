package lms

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// Ensure StatsService feeds the mapping gauges
var _ telemetry.MappingStatsProvider = (*StatsService)(nil)

// StatsService reports on the mapping store, the audit log and connectivity
type StatsService struct {
	gateway  lms.Gateway
	repos    Repositories
	settings Settings
	opts     options
}

// NewStatsService creates a StatsService
func NewStatsService(gateway lms.Gateway, repos Repositories, settings Settings, opts ...Option) *StatsService {
	return &StatsService{
		gateway:  gateway,
		repos:    repos,
		settings: settings.normalized(),
		opts:     buildOptions(opts),
	}
}

// Stats aggregates mapping counts, grade record counts and recent activity
func (s *StatsService) Stats(ctx context.Context) (*SyncStatistics, error) {
	userStatus, err := s.repos.Users.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	userRole, err := s.repos.Users.CountByRole(ctx)
	if err != nil {
		return nil, err
	}
	courseStatus, err := s.repos.Courses.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	enrollmentStatus, err := s.repos.Enrollments.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	grades, err := s.repos.Grades.Stats(ctx)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	counts, err := s.repos.Logs.CountSince(ctx, now.Add(-s.settings.RecentWindow))
	if err != nil {
		return nil, err
	}
	activity := make(map[lms.SyncType]ActivityStats, len(lms.AllSyncTypes))
	for _, t := range lms.AllSyncTypes {
		activity[t] = ActivityStats{}
	}
	for _, c := range counts {
		a := activity[c.SyncType]
		switch c.Outcome {
		case lms.OutcomeSuccess:
			a.Success += c.Count
		case lms.OutcomeFailed:
			a.Failed += c.Count
		}
		activity[c.SyncType] = a
	}

	return &SyncStatistics{
		Users: UserMappingStats{
			MappingStats: mappingStats(userStatus),
			ByRole:       userRole,
		},
		Courses:        mappingStats(courseStatus),
		Enrollments:    mappingStats(enrollmentStatus),
		Grades:         grades,
		RecentActivity: activity,
		Window:         s.settings.RecentWindow.String(),
		GeneratedAt:    now,
	}, nil
}

// mappingStats fills in every status so absent ones read as zero
func mappingStats(byStatus map[lms.SyncStatus]int64) MappingStats {
	out := MappingStats{ByStatus: map[lms.SyncStatus]int64{
		lms.SyncStatusPending:    0,
		lms.SyncStatusSynced:     0,
		lms.SyncStatusFailed:     0,
		lms.SyncStatusUnenrolled: 0,
	}}
	for status, n := range byStatus {
		out.ByStatus[status] = n
		out.Total += n
	}
	return out
}

// MappingCounts returns the per-status counts of each mapping kind
func (s *StatsService) MappingCounts(ctx context.Context) (map[string]map[lms.SyncStatus]int64, error) {
	users, err := s.repos.Users.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	courses, err := s.repos.Courses.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.repos.Enrollments.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]map[lms.SyncStatus]int64{
		lms.SubjectUser:       users,
		lms.SubjectCourse:     courses,
		lms.SubjectEnrollment: enrollments,
	}, nil
}

// ListLogs returns one page of audit entries from the last Days days.
// Days defaults to 7 and is capped at 30.
func (s *StatsService) ListLogs(ctx context.Context, query LogQuery) (*LogPage, error) {
	if query.Days <= 0 {
		query.Days = DefaultLogDays
	}
	if query.Days > MaxLogDays {
		query.Days = MaxLogDays
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = DefaultLogPageSize
	}
	if query.PageSize > MaxLogPageSize {
		query.PageSize = MaxLogPageSize
	}

	entries, total, err := s.repos.Logs.List(ctx, lms.SyncLogFilter{
		SyncType:  query.SyncType,
		Direction: query.Direction,
		Outcome:   query.Outcome,
		Since:     s.opts.now().AddDate(0, 0, -query.Days),
		Page:      query.Page,
		PageSize:  query.PageSize,
		OrderBy:   query.SortBy,
		OrderDir:  query.SortOrder,
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []lms.SyncLogEntry{}
	}
	return &LogPage{
		Entries:  entries,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
		Days:     query.Days,
	}, nil
}

// TestConnection checks the LMS with a site info call
func (s *StatsService) TestConnection(ctx context.Context) (*ConnectionTest, error) {
	if !s.settings.Configured {
		return &ConnectionTest{Error: lms.ErrNotConfigured.Error()}, lms.ErrNotConfigured
	}
	start := time.Now()
	site, err := s.gateway.SiteInfo(ctx)
	result := &ConnectionTest{Latency: time.Since(start)}
	if err != nil {
		result.Error = err.Error()
		logger.For(ctx, s.opts.logger).Warn("lms connection test failed", zap.Error(err))
		return result, nil
	}
	result.Success = true
	result.Site = site
	return result, nil
}

// Status reports configuration, connectivity and the statistics
func (s *StatsService) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{
		Configured: s.settings.Configured,
		Enabled:    s.settings.SyncEnabled,
	}
	if s.settings.Configured {
		site, err := s.gateway.SiteInfo(ctx)
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Connected = true
			report.Site = site
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report.Statistics = stats
	return report, nil
}
