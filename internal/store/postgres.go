package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zeynepyuksell/fleeky-chat/internal/invite"
	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	visibility TEXT NOT NULL,
	invite_code TEXT,
	created_by TEXT NOT NULL,
	participants TEXT[] NOT NULL,
	last_message_preview TEXT NOT NULL DEFAULT '',
	last_message_at BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	version BIGINT NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS rooms_invite_code_idx
	ON rooms (invite_code) WHERE invite_code IS NOT NULL;
`

const roomColumns = `id, name, visibility, COALESCE(invite_code, ''), created_by,
	participants, last_message_preview, last_message_at, created_at, version`

// PostgresDirectory is a DirectoryStore backed by PostgreSQL. Participant
// updates use a version column for compare-and-set. Directory watches are
// fed in-process: every successful mutation re-reads the room set and
// broadcasts it to subscribers.
type PostgresDirectory struct {
	pool *pgxpool.Pool
	hub  *dirHub

	// watchMu serializes snapshot reads with their broadcast so watchers
	// never see snapshots out of mutation order.
	watchMu sync.Mutex
}

// NewPostgresDirectory opens a connection pool and ensures the schema.
func NewPostgresDirectory(ctx context.Context, databaseURL string) (*PostgresDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresDirectory{pool: pool, hub: newDirHub()}, nil
}

func (s *PostgresDirectory) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	r := room.Clone()
	r.ID = uuid.New()
	r.InviteCode = invite.Normalize(r.InviteCode)
	r.Version = 1

	var code *string
	if r.InviteCode != "" {
		code = &r.InviteCode
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, name, visibility, invite_code, created_by, participants)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, r.ID, r.Name, r.Visibility, code, r.CreatedBy, r.Participants).Scan(&r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrCodeConflict
		}
		return nil, err
	}

	s.refresh(ctx)
	return r, nil
}

func (s *PostgresDirectory) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	return scanPgRoom(row)
}

func (s *PostgresDirectory) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE invite_code = $1
	`, invite.Normalize(code))
	return scanPgRoom(row)
}

func (s *PostgresDirectory) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		r, err := scanPgRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func (s *PostgresDirectory) UpdateParticipants(ctx context.Context, id uuid.UUID, version int64, participants []string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rooms SET participants = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`, id, version, participants)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing room from a concurrent writer.
		if _, err := s.GetRoom(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	s.refresh(ctx)
	return nil
}

func (s *PostgresDirectory) UpdatePreview(ctx context.Context, id uuid.UUID, preview string, at int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rooms SET last_message_preview = $2, last_message_at = $3
		WHERE id = $1
	`, id, preview, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.refresh(ctx)
	return nil
}

func (s *PostgresDirectory) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.refresh(ctx)
	return nil
}

func (s *PostgresDirectory) Watch(ctx context.Context) (<-chan models.DirectoryEvent, func(), error) {
	s.watchMu.Lock()
	rooms, err := s.ListRooms(ctx)
	if err != nil {
		s.watchMu.Unlock()
		return nil, nil, err
	}
	f := s.hub.subscribe()
	f.push(models.DirectoryEvent{Rooms: rooms})
	s.watchMu.Unlock()

	cancel := func() { s.hub.drop(f) }
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return f.out, cancel, nil
}

func (s *PostgresDirectory) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresDirectory) Close() error {
	s.hub.closeAll()
	s.pool.Close()
	return nil
}

// refresh re-reads the room set and broadcasts it to watchers. A failed
// read skips the broadcast; the next successful mutation catches
// watchers up, since every event carries the full set.
func (s *PostgresDirectory) refresh(ctx context.Context) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	rooms, err := s.ListRooms(ctx)
	if err != nil {
		return
	}
	s.hub.broadcast(models.DirectoryEvent{Rooms: rooms})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgRoom(row rowScanner) (*models.Room, error) {
	r := &models.Room{}
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Visibility,
		&r.InviteCode,
		&r.CreatedBy,
		&r.Participants,
		&r.LastMessagePreview,
		&r.LastMessageAt,
		&r.CreatedAt,
		&r.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}
