package db

import (
	"github.com/pkg/errors"

	"github.com/nvoss/typewriter/internal/profile"
	"github.com/nvoss/typewriter/store"
	"github.com/nvoss/typewriter/store/db/postgres"
	"github.com/nvoss/typewriter/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
