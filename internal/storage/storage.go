// Package storage keeps an on-disk mirror of server conversations so
// transcripts stay readable when the server is unreachable. The server
// remains the source of truth; rows here are replaced wholesale on
// every refresh.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recallhq/recall/internal/api"
	recallErrors "github.com/recallhq/recall/internal/errors"
)

const (
	defaultDirName  = ".local/share/recall"
	defaultFileName = "recall.db"
	timestampLayout = time.RFC3339Nano
)

// ErrNotFound reports a conversation absent from the mirror.
var ErrNotFound = errors.New("conversation not in local mirror")

// Mirror wraps access to the local conversation database.
type Mirror struct {
	db            *sql.DB
	preparedStmts map[string]*sql.Stmt
	preparedMutex sync.RWMutex
}

// Open initialises the mirror, creating the database if necessary. An
// empty path resolves to ~/.local/share/recall/recall.db.
func Open(path string) (*Mirror, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", resolved)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, recallErrors.NewStorageError("open", "failed to open sqlite database", err)
	}

	// Single connection avoids sqlite locking issues.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, recallErrors.NewStorageError("setup", "failed to enable foreign keys", err)
	}

	m := &Mirror{db: db}

	if err := m.migrate(); err != nil {
		m.Close()
		return nil, err
	}

	if err := m.initializePreparedStatements(); err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

func (m *Mirror) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id INTEGER PRIMARY KEY,
            title TEXT NOT NULL,
            is_archived INTEGER NOT NULL DEFAULT 0,
            message_count INTEGER NOT NULL DEFAULT 0,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL,
            fetched_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            conversation_id INTEGER NOT NULL,
            server_id INTEGER NOT NULL,
            role TEXT NOT NULL,
            content TEXT NOT NULL,
            sources TEXT,
            created_at TEXT NOT NULL,
            FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);`,
	}

	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return nil
}

func (m *Mirror) initializePreparedStatements() error {
	m.preparedStmts = make(map[string]*sql.Stmt)

	stmts := map[string]string{
		"upsertConversation": `INSERT INTO conversations(id, title, is_archived, message_count, created_at, updated_at, fetched_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET title = excluded.title, is_archived = excluded.is_archived,
                message_count = excluded.message_count, updated_at = excluded.updated_at, fetched_at = excluded.fetched_at`,
		"deleteMessages":     `DELETE FROM messages WHERE conversation_id = ?`,
		"insertMessage":      `INSERT INTO messages(conversation_id, server_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"getConversation":    `SELECT id, title, is_archived, message_count, created_at, updated_at FROM conversations WHERE id = ?`,
		"getMessages":        `SELECT server_id, role, content, sources, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		"listConversations":  `SELECT id, title, is_archived, message_count, created_at, updated_at FROM conversations ORDER BY updated_at DESC LIMIT ?`,
		"deleteConversation": `DELETE FROM conversations WHERE id = ?`,
	}

	for name, query := range stmts {
		stmt, err := m.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("prepare statement %s: %w", name, err)
		}
		m.preparedStmts[name] = stmt
	}

	return nil
}

// Close releases the database and prepared statements.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}

	var firstError error

	m.preparedMutex.Lock()
	for _, stmt := range m.preparedStmts {
		if err := stmt.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	m.preparedStmts = nil
	m.preparedMutex.Unlock()

	if m.db != nil {
		if err := m.db.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}

	return firstError
}

func (m *Mirror) getPreparedStmt(name string) (*sql.Stmt, error) {
	m.preparedMutex.RLock()
	stmt := m.preparedStmts[name]
	m.preparedMutex.RUnlock()

	if stmt == nil {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// SaveConversation replaces the mirrored copy of one conversation and
// its transcript in a single transaction.
func (m *Mirror) SaveConversation(ctx context.Context, conv *api.Conversation) error {
	if m == nil || m.db == nil {
		return errors.New("storage not initialised")
	}
	if conv == nil || conv.ID <= 0 {
		return errors.New("invalid conversation")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return recallErrors.NewStorageError("save", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	upsert, err := m.getPreparedStmt("upsertConversation")
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(timestampLayout)
	_, err = tx.StmtContext(ctx, upsert).ExecContext(ctx,
		conv.ID, conv.Title, boolToInt(conv.IsArchived), conv.MessageCount,
		conv.CreatedAt.Format(timestampLayout), conv.UpdatedAt.Format(timestampLayout), now)
	if err != nil {
		return recallErrors.NewStorageError("save", "failed to upsert conversation", err)
	}

	del, err := m.getPreparedStmt("deleteMessages")
	if err != nil {
		return err
	}
	if _, err := tx.StmtContext(ctx, del).ExecContext(ctx, conv.ID); err != nil {
		return recallErrors.NewStorageError("save", "failed to clear old messages", err)
	}

	ins, err := m.getPreparedStmt("insertMessage")
	if err != nil {
		return err
	}
	insert := tx.StmtContext(ctx, ins)
	for _, msg := range conv.Messages {
		var sources []byte
		if len(msg.Sources) > 0 {
			sources, err = json.Marshal(msg.Sources)
			if err != nil {
				return recallErrors.NewStorageError("save", "failed to encode sources", err)
			}
		}
		_, err = insert.ExecContext(ctx, conv.ID, msg.ID, msg.Role, msg.Content,
			nullableString(sources), msg.CreatedAt.Format(timestampLayout))
		if err != nil {
			return recallErrors.NewStorageError("save", "failed to insert message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return recallErrors.NewStorageError("save", "failed to commit transaction", err)
	}

	return nil
}

// LoadConversation fetches a mirrored conversation with its full
// transcript. Returns ErrNotFound when the conversation was never
// mirrored.
func (m *Mirror) LoadConversation(ctx context.Context, id int) (*api.Conversation, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("storage not initialised")
	}
	if id <= 0 {
		return nil, errors.New("invalid conversation id")
	}

	stmt, err := m.getPreparedStmt("getConversation")
	if err != nil {
		return nil, err
	}

	conv, err := scanConversation(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select conversation: %w", err)
	}

	msgStmt, err := m.getPreparedStmt("getMessages")
	if err != nil {
		return nil, err
	}
	rows, err := msgStmt.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg     api.Message
			sources sql.NullString
			created string
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &sources, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &msg.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		msg.CreatedAt.Time, err = parseTimestamp(created)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return conv, nil
}

// ListConversations returns mirrored conversations ordered by most
// recent server activity. Transcripts are not populated.
func (m *Mirror) ListConversations(ctx context.Context, limit int) ([]api.Conversation, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("storage not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	stmt, err := m.getPreparedStmt("listConversations")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]api.Conversation, 0, 8)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}

// DeleteConversation drops a mirrored conversation and its messages.
func (m *Mirror) DeleteConversation(ctx context.Context, id int) error {
	if m == nil || m.db == nil {
		return errors.New("storage not initialised")
	}

	stmt, err := m.getPreparedStmt("deleteConversation")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, id); err != nil {
		return recallErrors.NewStorageError("delete", "failed to delete conversation", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*api.Conversation, error) {
	var (
		conv             api.Conversation
		archived         int
		created, updated string
	)
	if err := row.Scan(&conv.ID, &conv.Title, &archived, &conv.MessageCount, &created, &updated); err != nil {
		return nil, err
	}
	conv.IsArchived = archived != 0

	var err error
	conv.CreatedAt.Time, err = parseTimestamp(created)
	if err != nil {
		return nil, err
	}
	conv.UpdatedAt.Time, err = parseTimestamp(updated)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func resolvePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, defaultDirName, defaultFileName)
	}

	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}

	return absPath, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
