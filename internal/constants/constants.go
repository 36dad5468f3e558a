package constants

import "time"

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// ArchiveUsernamePrefix + ArchiveDigits must fit the 12-character
	// username limit.
	ArchiveUsernamePrefix = "archive"
	ArchiveDigits         = 5

	// MinArchivedSnapshots is the least history an archived player must
	// retain to be worth keeping at all.
	MinArchivedSnapshots = 2
)
