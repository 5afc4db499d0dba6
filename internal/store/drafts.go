// Package store persists saved drafts. A draft is a titled snapshot of a
// board's pages, written when a participant saves and read back when a draft
// is opened into a live room.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"sketchroom/internal/board"
)

// ErrDraftNotFound reports a lookup or delete against an unknown draft id.
var ErrDraftNotFound = errors.New("draft not found")

// Draft is one saved board.
type Draft struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Pages     []board.Page `json:"pages"`
	CreatedAt time.Time    `json:"createdAt"`
}

// DraftStore keeps drafts in a sqlite database.
type DraftStore struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and ensures the schema
// exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*DraftStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open draft database: %w", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS drafts (
			id         TEXT NOT NULL PRIMARY KEY,
			title      TEXT NOT NULL,
			pages      TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure drafts table: %w", err)
	}
	return &DraftStore{db: db}, nil
}

// Close releases the underlying database.
func (s *DraftStore) Close() error {
	return s.db.Close()
}

// Save stores a new draft and returns it with its assigned id.
func (s *DraftStore) Save(ctx context.Context, title string, pages []board.Page) (Draft, error) {
	draft := Draft{
		ID:        uuid.NewString(),
		Title:     title,
		Pages:     pages,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(draft.Pages)
	if err != nil {
		return Draft{}, fmt.Errorf("marshal draft pages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO drafts (id, title, pages, created_at) VALUES (?, ?, ?, ?)`,
		draft.ID, draft.Title, string(raw), draft.CreatedAt,
	); err != nil {
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return draft, nil
}

// List returns every saved draft, newest first.
func (s *DraftStore) List(ctx context.Context) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, pages, created_at FROM drafts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	drafts := make([]Draft, 0)
	for rows.Next() {
		draft, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return drafts, nil
}

// Get returns one draft by id.
func (s *DraftStore) Get(ctx context.Context, id string) (Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, pages, created_at FROM drafts WHERE id = ?`, id)
	draft, err := scanDraft(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrDraftNotFound
	}
	return draft, err
}

// Delete removes one draft by id.
func (s *DraftStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDraftNotFound
	}
	return nil
}

func scanDraft(scan func(...any) error) (Draft, error) {
	var (
		draft Draft
		raw   string
	)
	if err := scan(&draft.ID, &draft.Title, &raw, &draft.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Draft{}, err
		}
		return Draft{}, fmt.Errorf("scan draft: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &draft.Pages); err != nil {
		return Draft{}, fmt.Errorf("decode draft pages: %w", err)
	}
	return draft, nil
}
