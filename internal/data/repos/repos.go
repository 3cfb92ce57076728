package repos

import (
	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/data/repos/events"
	"github.com/liftline/liftline-backend/internal/data/repos/jobs"
	"github.com/liftline/liftline-backend/internal/data/repos/monitor"
	"github.com/liftline/liftline-backend/internal/data/repos/projections"
	"github.com/liftline/liftline-backend/internal/data/repos/users"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

type UserRepo = users.UserRepo
type EventRepo = events.EventRepo
type BackgroundJobRepo = jobs.BackgroundJobRepo
type ProjectionRepo = projections.ProjectionRepo
type MonitorRepo = monitor.MonitorRepo

type RetryPolicy = jobs.RetryPolicy
type StatusCount = jobs.StatusCount
type FreshnessRow = monitor.FreshnessRow
type FreshnessSummary = monitor.FreshnessSummary

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return users.NewUserRepo(db, baseLog)
}
func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return events.NewEventRepo(db, baseLog)
}
func NewBackgroundJobRepo(db *gorm.DB, baseLog *logger.Logger) BackgroundJobRepo {
	return jobs.NewBackgroundJobRepo(db, baseLog)
}
func NewProjectionRepo(db *gorm.DB, baseLog *logger.Logger) ProjectionRepo {
	return projections.NewProjectionRepo(db, baseLog)
}
func NewMonitorRepo(db *gorm.DB, baseLog *logger.Logger) MonitorRepo {
	return monitor.NewMonitorRepo(db, baseLog)
}
