package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bryan-buckman/instarelay/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection serializes writes.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		username TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS last_posts (
		username TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS last_stories (
		username TEXT PRIMARY KEY,
		story_ids TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Account Methods ---

// GetAccounts returns all accounts ordered by username.
func (db *DB) GetAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT username, channel_id, enabled, created_at FROM accounts ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// GetAccount returns one account or ErrNotFound.
func (db *DB) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT username, channel_id, enabled, created_at FROM accounts WHERE username = ?", username)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpsertAccount creates an account or updates its channel and enabled flag.
func (db *DB) UpsertAccount(ctx context.Context, account model.Account) error {
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO accounts (username, channel_id, enabled, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET channel_id = excluded.channel_id, enabled = excluded.enabled`,
		account.Username, account.ChannelID, account.Enabled, createdAt)
	return err
}

// DeleteAccount removes an account. Watermarks are kept.
func (db *DB) DeleteAccount(ctx context.Context, username string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM accounts WHERE username = ?", username)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// SetAccountEnabled toggles monitoring for an account.
func (db *DB) SetAccountEnabled(ctx context.Context, username string, enabled bool) (bool, error) {
	res, err := db.conn.ExecContext(ctx, "UPDATE accounts SET enabled = ? WHERE username = ?", enabled, username)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// --- Watermark Methods ---

// LoadLastPosts returns the last relayed post id per username.
func (db *DB) LoadLastPosts(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT username, post_id FROM last_posts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLastPosts(rows)
}

// SaveLastPost records the last relayed post id for a username.
func (db *DB) SaveLastPost(ctx context.Context, username, postID string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO last_posts (username, post_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET post_id = excluded.post_id, updated_at = excluded.updated_at`,
		username, postID, time.Now().UTC())
	return err
}

// LoadLastStories returns the seen story ids per username, oldest first.
func (db *DB) LoadLastStories(ctx context.Context) (map[string][]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT username, story_ids FROM last_stories")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLastStories(rows)
}

// SaveLastStories replaces the seen story ids for a username.
func (db *DB) SaveLastStories(ctx context.Context, username string, storyIDs []string) error {
	raw, err := encodeStoryIDs(storyIDs)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO last_stories (username, story_ids, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET story_ids = excluded.story_ids, updated_at = excluded.updated_at`,
		username, raw, time.Now().UTC())
	return err
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	var createdAt sql.NullTime
	if err := row.Scan(&a.Username, &a.ChannelID, &a.Enabled, &createdAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		a.CreatedAt = createdAt.Time
	}
	return &a, nil
}

func scanAccounts(rows *sql.Rows) ([]model.Account, error) {
	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func scanLastPosts(rows *sql.Rows) (map[string]string, error) {
	posts := make(map[string]string)
	for rows.Next() {
		var username, postID string
		if err := rows.Scan(&username, &postID); err != nil {
			return nil, err
		}
		posts[username] = postID
	}
	return posts, rows.Err()
}

func scanLastStories(rows *sql.Rows) (map[string][]string, error) {
	stories := make(map[string][]string)
	for rows.Next() {
		var username, raw string
		if err := rows.Scan(&username, &raw); err != nil {
			return nil, err
		}
		ids, err := decodeStoryIDs(raw)
		if err != nil {
			return nil, fmt.Errorf("stories for %s: %w", username, err)
		}
		stories[username] = ids
	}
	return stories, rows.Err()
}
