package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/data/repos"
	"github.com/liftline/liftline-backend/internal/jobs/projectors"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

// FreshnessReport is the operator view of projection lag for one user.
// LagSeconds is nil when the user has no signal or the projection is already
// at least as new as the signal.
type FreshnessReport struct {
	repos.FreshnessRow
	LagSeconds           *float64 `json:"lag_seconds"`
	ProjectionAgeSeconds *float64 `json:"projection_age_seconds"`
}

type MonitorService interface {
	// Freshness reports per-user signal-to-projection lag for the given
	// projection types (all registered types when empty).
	Freshness(dbc dbctx.Context, projectionTypes []string) ([]FreshnessReport, error)
	Summary(dbc dbctx.Context, projectionTypes []string) (*repos.FreshnessSummary, error)
	DeadJobCount(dbc dbctx.Context) (int64, error)
}

type monitorService struct {
	db         *gorm.DB
	log        *logger.Logger
	monitor    repos.MonitorRepo
	jobs       repos.BackgroundJobRepo
	projectors *projectors.Registry
}

func NewMonitorService(db *gorm.DB, baseLog *logger.Logger, monitor repos.MonitorRepo, jobs repos.BackgroundJobRepo, registry *projectors.Registry) MonitorService {
	return &monitorService{
		db:         db,
		log:        baseLog.With("service", "MonitorService"),
		monitor:    monitor,
		jobs:       jobs,
		projectors: registry,
	}
}

// resolve maps the requested projection types to their signal event types.
func (s *monitorService) resolve(projectionTypes []string) (ptypes []string, eventTypes []string) {
	targets := s.projectors.All()
	if len(projectionTypes) > 0 {
		targets = targets[:0:0]
		for _, pt := range projectionTypes {
			if p, ok := s.projectors.Get(pt); ok {
				targets = append(targets, p)
			}
		}
	}
	seen := make(map[string]bool)
	for _, p := range targets {
		ptypes = append(ptypes, p.Type())
		for _, et := range p.EventTypes() {
			if !seen[et] {
				seen[et] = true
				eventTypes = append(eventTypes, et)
			}
		}
	}
	return ptypes, eventTypes
}

func (s *monitorService) Freshness(dbc dbctx.Context, projectionTypes []string) ([]FreshnessReport, error) {
	ptypes, eventTypes := s.resolve(projectionTypes)
	rows, err := s.monitor.Freshness(dbc, eventTypes, ptypes)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]FreshnessReport, 0, len(rows))
	for _, row := range rows {
		report := FreshnessReport{FreshnessRow: row}
		if row.LatestSignalAt != nil && row.LatestProjectionAt != nil && row.LatestSignalAt.After(*row.LatestProjectionAt) {
			lag := row.LatestSignalAt.Sub(*row.LatestProjectionAt).Seconds()
			report.LagSeconds = &lag
		}
		if row.LatestProjectionAt != nil {
			age := now.Sub(*row.LatestProjectionAt).Seconds()
			report.ProjectionAgeSeconds = &age
		}
		out = append(out, report)
	}
	return out, nil
}

func (s *monitorService) Summary(dbc dbctx.Context, projectionTypes []string) (*repos.FreshnessSummary, error) {
	ptypes, eventTypes := s.resolve(projectionTypes)
	return s.monitor.Summary(dbc, eventTypes, ptypes)
}

func (s *monitorService) DeadJobCount(dbc dbctx.Context) (int64, error) {
	return s.jobs.CountDead(dbc)
}
