package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"career-compass/internal/domain"
)

const kindConversation = "conversation"

// SQLiteStore keeps the same documents as Client in a local SQLite file. It
// backs the terminal client and local development.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the chat and quiz views.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS session_documents (
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		body_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_session_documents_updated ON session_documents(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func quizKind(stream domain.Stream) string {
	return "quiz:" + string(stream)
}

// readDocument loads the JSON body stored under (userID, kind) into v.
func (s *SQLiteStore) readDocument(ctx context.Context, userID, kind string, v any) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body_json FROM session_documents WHERE user_id = ? AND kind = ?`,
		userID, kind,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) writeDocument(ctx context.Context, userID, kind string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	query := `
	INSERT INTO session_documents (user_id, kind, body_json, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, kind) DO UPDATE SET
		body_json = excluded.body_json,
		updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, kind, string(body), s.now().Unix()); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

type conversationDocument struct {
	Messages []domain.Turn `json:"messages"`
}

func (s *SQLiteStore) ReadConversation(ctx context.Context, userID string) ([]domain.Turn, bool, error) {
	var doc conversationDocument
	found, err := s.readDocument(ctx, userID, kindConversation, &doc)
	if err != nil {
		return nil, false, fmt.Errorf("repository: ReadConversation: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	if doc.Messages == nil {
		doc.Messages = []domain.Turn{}
	}
	return doc.Messages, true, nil
}

func (s *SQLiteStore) WriteConversation(ctx context.Context, userID string, turns []domain.Turn) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: WriteConversation: user id is required")
	}
	// Inline attachment bytes are never stored, only their metadata.
	stored := make([]domain.Turn, len(turns))
	for i, t := range turns {
		t.Attachment = t.Attachment.WithoutData()
		stored[i] = t
	}
	if err := s.writeDocument(ctx, userID, kindConversation, conversationDocument{Messages: stored}); err != nil {
		return fmt.Errorf("repository: WriteConversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadQuiz(ctx context.Context, userID string, stream domain.Stream) (domain.QuizRecord, bool, error) {
	var rec domain.QuizRecord
	found, err := s.readDocument(ctx, userID, quizKind(stream), &rec)
	if err != nil {
		return domain.QuizRecord{}, false, fmt.Errorf("repository: ReadQuiz: %w", err)
	}
	if !found {
		return domain.QuizRecord{}, false, nil
	}
	rec.Stream = stream
	return rec, true, nil
}

func (s *SQLiteStore) WriteQuiz(ctx context.Context, userID string, rec domain.QuizRecord) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: WriteQuiz: user id is required")
	}
	if _, err := domain.ParseStream(string(rec.Stream)); err != nil {
		return fmt.Errorf("repository: WriteQuiz: %w", err)
	}
	if err := s.writeDocument(ctx, userID, quizKind(rec.Stream), rec); err != nil {
		return fmt.Errorf("repository: WriteQuiz: %w", err)
	}
	return nil
}
