package storage

import (
	"fmt"

	"github.com/platehaus/storefront/internal/dbpool"
)

const (
	// DefaultFetchLimit bounds a single drain when the caller passes no limit.
	DefaultFetchLimit = 10

	// DefaultListLimit and MaxListLimit bound admin listings.
	DefaultListLimit = 50
	MaxListLimit     = 500

	// MaxResponseExcerpt is the number of characters of a receiver response kept in the delivery log.
	MaxResponseExcerpt = 1000
)

// Default table/collection names.
const (
	DefaultSettingsTable = "webhook_settings"
	DefaultQueueTable    = "webhook_queue"
	DefaultLogsTable     = "webhook_logs"
)

// TableNames maps the three webhook tables (or collections) to their configured names.
type TableNames struct {
	Settings string
	Queue    string
	Logs     string
}

func (t TableNames) withDefaults() TableNames {
	if t.Settings == "" {
		t.Settings = DefaultSettingsTable
	}
	if t.Queue == "" {
		t.Queue = DefaultQueueTable
	}
	if t.Logs == "" {
		t.Logs = DefaultLogsTable
	}
	return t
}

// validate rejects names that are unsafe to interpolate into SQL.
func (t TableNames) validate() error {
	for _, name := range []string{t.Settings, t.Queue, t.Logs} {
		if !dbpool.ValidIdentifier(name) {
			return fmt.Errorf("storage: invalid table name %q", name)
		}
	}
	return nil
}

func fetchLimit(limit int) int {
	if limit <= 0 {
		return DefaultFetchLimit
	}
	return limit
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
