package handlers

import (
	"media-archive/internal/database"
	"media-archive/internal/importer"
	"media-archive/internal/jobqueue"
	"media-archive/internal/startup"
)

type Handlers struct {
	db          *database.Database
	importer    *importer.Importer
	worker      *jobqueue.Worker
	archiveRoot string
}

func New(db *database.Database, imp *importer.Importer, worker *jobqueue.Worker, config *startup.Config) *Handlers {
	return &Handlers{
		db:          db,
		importer:    imp,
		worker:      worker,
		archiveRoot: config.ArchiveDir,
	}
}
