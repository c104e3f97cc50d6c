package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zeynepyuksell/fleeky-chat/internal/invite"
	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	visibility TEXT NOT NULL,
	invite_code TEXT,
	created_by TEXT NOT NULL,
	participants TEXT NOT NULL,
	last_message_preview TEXT NOT NULL DEFAULT '',
	last_message_at INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS rooms_invite_code_idx
	ON rooms (invite_code) WHERE invite_code IS NOT NULL;
`

// SQLiteDirectory is a DirectoryStore backed by SQLite, for development
// and single-node deployments without PostgreSQL. Participants are stored
// as a JSON array column.
type SQLiteDirectory struct {
	db  *sql.DB
	hub *dirHub

	// watchMu serializes snapshot reads with their broadcast so watchers
	// never see snapshots out of mutation order.
	watchMu sync.Mutex
}

// NewSQLiteDirectory opens (and if needed creates) the database file.
// An empty path defaults to ./data/fleeky.db.
func NewSQLiteDirectory(ctx context.Context, dbPath string) (*SQLiteDirectory, error) {
	if dbPath == "" {
		dbPath = "./data/fleeky.db"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDirectory{db: db, hub: newDirHub()}, nil
}

func (s *SQLiteDirectory) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	r := room.Clone()
	r.ID = uuid.New()
	r.InviteCode = invite.Normalize(r.InviteCode)
	r.CreatedAt = time.Now().UTC()
	r.Version = 1

	participants, err := json.Marshal(r.Participants)
	if err != nil {
		return nil, err
	}
	var code *string
	if r.InviteCode != "" {
		code = &r.InviteCode
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, visibility, invite_code, created_by, participants, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID.String(), r.Name, string(r.Visibility), code, r.CreatedBy, string(participants), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrCodeConflict
		}
		return nil, err
	}

	s.refresh(ctx)
	return r, nil
}

func (s *SQLiteDirectory) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, visibility, COALESCE(invite_code, ''), created_by,
			participants, last_message_preview, last_message_at, created_at, version
		FROM rooms WHERE id = ?
	`, id.String())
	return scanSQLiteRoom(row)
}

func (s *SQLiteDirectory) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, visibility, COALESCE(invite_code, ''), created_by,
			participants, last_message_preview, last_message_at, created_at, version
		FROM rooms WHERE invite_code = ?
	`, invite.Normalize(code))
	return scanSQLiteRoom(row)
}

func (s *SQLiteDirectory) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, visibility, COALESCE(invite_code, ''), created_by,
			participants, last_message_preview, last_message_at, created_at, version
		FROM rooms ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		r, err := scanSQLiteRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func (s *SQLiteDirectory) UpdateParticipants(ctx context.Context, id uuid.UUID, version int64, participants []string) error {
	data, err := json.Marshal(participants)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET participants = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(data), id.String(), version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetRoom(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	s.refresh(ctx)
	return nil
}

func (s *SQLiteDirectory) UpdatePreview(ctx context.Context, id uuid.UUID, preview string, at int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET last_message_preview = ?, last_message_at = ?
		WHERE id = ?
	`, preview, at, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.refresh(ctx)
	return nil
}

func (s *SQLiteDirectory) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.refresh(ctx)
	return nil
}

func (s *SQLiteDirectory) Watch(ctx context.Context) (<-chan models.DirectoryEvent, func(), error) {
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

func (s *SQLiteDirectory) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDirectory) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}

func (s *SQLiteDirectory) refresh(ctx context.Context) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	rooms, err := s.ListRooms(ctx)
	if err != nil {
		return
	}
	s.hub.broadcast(models.DirectoryEvent{Rooms: rooms})
}

func scanSQLiteRoom(row rowScanner) (*models.Room, error) {
	var (
		r            models.Room
		id           string
		visibility   string
		participants string
		createdAt    string
	)
	err := row.Scan(
		&id,
		&r.Name,
		&visibility,
		&r.InviteCode,
		&r.CreatedBy,
		&participants,
		&r.LastMessagePreview,
		&r.LastMessageAt,
		&createdAt,
		&r.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	r.Visibility = models.Visibility(visibility)
	if err := json.Unmarshal([]byte(participants), &r.Participants); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}
