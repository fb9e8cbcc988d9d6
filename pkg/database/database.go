package database

import (
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InMemory keeps the whole store in the process. Every connection gets its
// own database.
const InMemory = ":memory:"

type Configuration struct {
	// Location of the sqlite file, or InMemory
	Filepath string
	Config   *gorm.Config
	Models   []any
}

func DefaultConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}

// Open connects to the store, enables foreign keys (needed for cascading
// deletes) and migrates the models.
func Open(conf Configuration) (*gorm.DB, error) {
	if conf.Filepath == "" {
		return nil, errors.New("missing database location")
	}
	if conf.Config == nil {
		conf.Config = DefaultConfig()
	}

	db, err := gorm.Open(sqlite.Open(conf.Filepath), conf.Config)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", conf.Filepath)
	}

	// the foreign key pragma is per connection, and an in-memory database
	// only lives as long as its connection
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}
	if err := db.AutoMigrate(conf.Models...); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}
