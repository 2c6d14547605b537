package db

import "github.com/MacJediWizard/resticron/internal/backup"

var (
	_ backup.RunStore      = (*DB)(nil)
	_ backup.ScheduleStore = (*DB)(nil)
)
