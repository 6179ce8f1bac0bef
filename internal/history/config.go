package history

import "github.com/sysdeck/sysdeck/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultBatchSize    = 16
	defaultBatchTimeout = 30
)

type Config struct {
	// Enabled controls whether snapshots are persisted at all.
	Enabled bool
	// DBPath is the sqlite database file.
	DBPath string
	// BatchSize is the number of snapshots buffered before a flush.
	BatchSize int
	// BatchTimeout is the flush interval in seconds.
	BatchTimeout int
}

func DefaultConfig(dbPath string) Config {
	return Config{
		Enabled:      true,
		DBPath:       dbPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 || c.BatchTimeout < 1 {
		return errFactory.New(ErrInvalidConfig)
	}

	return nil
}
