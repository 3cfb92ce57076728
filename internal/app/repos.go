package app

import (
	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/data/repos"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

type Repos struct {
	User          repos.UserRepo
	Event         repos.EventRepo
	BackgroundJob repos.BackgroundJobRepo
	Projection    repos.ProjectionRepo
	Monitor       repos.MonitorRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:          repos.NewUserRepo(db, log),
		Event:         repos.NewEventRepo(db, log),
		BackgroundJob: repos.NewBackgroundJobRepo(db, log),
		Projection:    repos.NewProjectionRepo(db, log),
		Monitor:       repos.NewMonitorRepo(db, log),
	}
}
