package pipeline

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
	"github.com/couchcryptid/weather-warehouse-etl/internal/tracker"
	"github.com/jonboulle/clockwork"
)

type dbSession struct {
	db      *sql.DB
	tracker *tracker.Tracker
}

func (s *dbSession) DB() *sql.DB              { return s.db }
func (s *dbSession) Tracker() ExecutionTracker { return s.tracker }
func (s *dbSession) Close() error              { return s.db.Close() }

// NewSessionFactory opens a new PostgreSQL connection pool per session.
func NewSessionFactory(dsn string, clock clockwork.Clock, logger *slog.Logger) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		db, err := store.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return &dbSession{db: db, tracker: tracker.New(db, clock, logger)}, nil
	}
}
