package persist

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RoomAuditRepo records room lifecycle transitions. It is not a player
// account store — it exists so operators can see room throughput and
// duration, never anything about who a player is.
type RoomAuditRepo interface {
	RoomCreated(code, mode string, teamSize int, at time.Time)
	RoomStarted(code string, at time.Time)
	RoomClosed(code string, at time.Time)
}

// NoopRoomAuditRepo discards every call. Used when the config's database DSN
// is empty — the relay must run without a database.
type NoopRoomAuditRepo struct{}

func (NoopRoomAuditRepo) RoomCreated(string, string, int, time.Time) {}
func (NoopRoomAuditRepo) RoomStarted(string, time.Time)              {}
func (NoopRoomAuditRepo) RoomClosed(string, time.Time)               {}

// PgRoomAuditRepo persists room lifecycle events to Postgres via pgx.
type PgRoomAuditRepo struct {
	db  *DB
	log *zap.Logger
}

func NewPgRoomAuditRepo(db *DB, log *zap.Logger) *PgRoomAuditRepo {
	return &PgRoomAuditRepo{db: db, log: log}
}

func (r *PgRoomAuditRepo) RoomCreated(code, mode string, teamSize int, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO room_audit (code, mode, team_size, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (code) DO NOTHING`,
		code, mode, teamSize, at,
	)
	if err != nil {
		r.log.Warn("room audit: record created failed", zap.String("code", code), zap.Error(err))
	}
}

func (r *PgRoomAuditRepo) RoomStarted(code string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.db.Pool.Exec(ctx, `UPDATE room_audit SET started_at = $2 WHERE code = $1`, code, at)
	if err != nil {
		r.log.Warn("room audit: record started failed", zap.String("code", code), zap.Error(err))
	}
}

func (r *PgRoomAuditRepo) RoomClosed(code string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.db.Pool.Exec(ctx, `UPDATE room_audit SET closed_at = $2 WHERE code = $1`, code, at)
	if err != nil {
		r.log.Warn("room audit: record closed failed", zap.String("code", code), zap.Error(err))
	}
}
