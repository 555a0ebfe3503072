package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poscraft/collabsync/internal/domain"
	"github.com/poscraft/collabsync/internal/shared"
	_ "modernc.org/sqlite"
)

// writeRetries bounds retries of writes that hit SQLite concurrency errors.
const writeRetries = 3

// execWithRetry runs an exec, retrying briefly on SQLITE_BUSY style errors.
func execWithRetry(ctx context.Context, db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		result, err = db.ExecContext(ctx, query, args...)
		if !shared.IsSQLiteConflictError(err) {
			return result, err
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		parent_id TEXT,
		author_user_id TEXT NOT NULL,
		author_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		line_number INTEGER NOT NULL,
		body TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolved_by TEXT,
		resolved_at INTEGER,
		reactions_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_resource ON comments(resource_id, resource_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments(parent_id) WHERE parent_id IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateComment persists a new comment or reply.
func (s *SQLiteStore) CreateComment(ctx context.Context, c *domain.Comment) error {
	reactions, err := marshalReactions(c.Reactions)
	if err != nil {
		return err
	}

	var parentID interface{}
	if c.ParentID != "" {
		parentID = c.ParentID
	}

	query := `
	INSERT INTO comments (
		id, resource_id, resource_type, parent_id, author_user_id, author_name,
		position, line_number, body, resolved, resolved_by, resolved_at,
		reactions_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = execWithRetry(ctx, s.db, query,
		c.ID, c.ResourceID, string(c.ResourceType), parentID,
		c.AuthorUserID, c.AuthorName, c.Position, c.LineNumber, c.Text,
		boolToInt(c.Resolved), nullableString(c.ResolvedBy), nullableTime(c.ResolvedAt),
		reactions, c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// GetComment retrieves a single comment by ID, without its replies.
func (s *SQLiteStore) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	row := s.db.QueryRowContext(ctx, selectComment+` WHERE id = ?`, id)
	c, err := scanComment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan comment row: %w", err)
	}
	return c, nil
}

// UpdateComment persists mutations to resolution state and reactions.
func (s *SQLiteStore) UpdateComment(ctx context.Context, c *domain.Comment) error {
	reactions, err := marshalReactions(c.Reactions)
	if err != nil {
		return err
	}

	query := `
	UPDATE comments SET
		resolved = ?, resolved_by = ?, resolved_at = ?,
		reactions_json = ?, updated_at = ?
	WHERE id = ?`

	result, err := execWithRetry(ctx, s.db, query,
		boolToInt(c.Resolved), nullableString(c.ResolvedBy), nullableTime(c.ResolvedAt),
		reactions, time.Now().Unix(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByResource returns the comment threads for a resource, replies nested
// under their parents, oldest first.
func (s *SQLiteStore) ListByResource(ctx context.Context, resourceID string, resourceType domain.ResourceType, unresolvedOnly bool) ([]*domain.Comment, error) {
	query := selectComment + ` WHERE resource_id = ? AND resource_type = ? ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, resourceID, string(resourceType))
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.Comment)
	var ordered []*domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment row: %w", err)
		}
		byID[c.ID] = c
		ordered = append(ordered, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	var threads []*domain.Comment
	for _, c := range ordered {
		if c.ParentID == "" {
			if unresolvedOnly && c.Resolved {
				continue
			}
			threads = append(threads, c)
			continue
		}
		if parent, ok := byID[c.ParentID]; ok {
			parent.Replies = append(parent.Replies, c)
		}
	}
	return threads, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const selectComment = `
	SELECT id, resource_id, resource_type, parent_id, author_user_id, author_name,
	       position, line_number, body, resolved, resolved_by, resolved_at,
	       reactions_json, created_at, updated_at
	FROM comments`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanComment(row rowScanner) (*domain.Comment, error) {
	var c domain.Comment
	var resourceType string
	var parentID, resolvedBy sql.NullString
	var resolved int
	var resolvedAt sql.NullInt64
	var reactionsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&c.ID, &c.ResourceID, &resourceType, &parentID, &c.AuthorUserID, &c.AuthorName,
		&c.Position, &c.LineNumber, &c.Text, &resolved, &resolvedBy, &resolvedAt,
		&reactionsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ResourceType = domain.ResourceType(resourceType)
	c.ParentID = parentID.String
	c.Resolved = resolved != 0
	c.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		ts := time.Unix(resolvedAt.Int64, 0)
		c.ResolvedAt = &ts
	}
	if err := json.Unmarshal([]byte(reactionsJSON), &c.Reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)

	return &c, nil
}

func marshalReactions(reactions map[string]int) (string, error) {
	if reactions == nil {
		return "{}", nil
	}
	data, err := json.Marshal(reactions)
	if err != nil {
		return "", fmt.Errorf("encode reactions: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
