package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DB struct {
	*sqlx.DB
}

type Options struct {
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewConnection(databaseURL string, opts Options) (*DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxConnections == 0 {
		opts.MaxConnections = 25
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return &DB{db}, nil
}

// New wraps an existing connection, e.g. a sqlmock one in tests.
func New(db *sqlx.DB) *DB {
	return &DB{db}
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
