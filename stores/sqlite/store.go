package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/ved-shetye/SyncScript/core"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	docTableStmt := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content BLOB,
		owner TEXT NOT NULL,
		collaborators TEXT NOT NULL DEFAULT '',
		template_type TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(docTableStmt); err != nil {
		log.Fatalf("failed to create documents table: %v", err)
	}

	userTableStmt := `
	CREATE TABLE IF NOT EXISTS users (
		subject TEXT PRIMARY KEY,
		name TEXT,
		email TEXT UNIQUE,
		password_hash TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(userTableStmt); err != nil {
		log.Fatalf("failed to create users table: %v", err)
	}

	return &sqliteStore{db}
}

// Collaborators are stored as a comma-joined list; subjects are ULIDs or OIDC
// subjects and never contain commas.
func joinCollaborators(subjects []string) string {
	return strings.Join(subjects, ",")
}

func splitCollaborators(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// DocumentStore implementation

func (s *sqliteStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	now := time.Now()
	document.ID = id
	document.CreatedAt = now
	document.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner":       document.Owner,
	})

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, owner, collaborators, template_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, document.Title, []byte(document.Content), document.Owner,
		joinCollaborators(document.Collaborators), document.TemplateType, now, now)
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created")
	return id, nil
}

func (s *sqliteStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	var (
		doc           core.Document
		content       []byte
		collaborators string
	)
	doc.ID = id
	err := s.db.QueryRowContext(ctx,
		`SELECT title, content, owner, collaborators, template_type, created_at, updated_at
		 FROM documents WHERE id = ?`, id).
		Scan(&doc.Title, &content, &doc.Owner, &collaborators, &doc.TemplateType,
			&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		logrus.WithField("document_id", id).WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	doc.Content = content
	doc.Collaborators = splitCollaborators(collaborators)
	return &doc, nil
}

func (s *sqliteStore) SaveContent(ctx context.Context, id string, content json.RawMessage) (*core.Document, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET content = ?, updated_at = ? WHERE id = ?",
		[]byte(content), time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, core.ErrNotFound
	}
	return s.FindID(ctx, id)
}

func (s *sqliteStore) Update(ctx context.Context, id string, upd core.DocumentUpdate) (*core.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", id).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	now := time.Now()
	if upd.Title != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE documents SET title = ? WHERE id = ?", *upd.Title, id); err != nil {
			return nil, err
		}
	}
	if upd.Content != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE documents SET content = ? WHERE id = ?", []byte(upd.Content), id); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET updated_at = ? WHERE id = ?", now, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindID(ctx, id)
}

func (s *sqliteStore) AddCollaborator(ctx context.Context, id string, subject string) (*core.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var owner, collaborators string
	err = tx.QueryRowContext(ctx, "SELECT owner, collaborators FROM documents WHERE id = ?", id).
		Scan(&owner, &collaborators)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	subjects := splitCollaborators(collaborators)
	already := owner == subject
	for _, sub := range subjects {
		if sub == subject {
			already = true
			break
		}
	}
	if !already {
		subjects = append(subjects, subject)
		_, err = tx.ExecContext(ctx,
			"UPDATE documents SET collaborators = ?, updated_at = ? WHERE id = ?",
			joinCollaborators(subjects), time.Now(), id)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindID(ctx, id)
}

func (s *sqliteStore) ListByUser(ctx context.Context, subject string) ([]*core.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, owner, collaborators, template_type, created_at, updated_at
		 FROM documents
		 WHERE owner = ? OR (',' || collaborators || ',') LIKE ?`,
		subject, "%,"+subject+",%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*core.Document{}
	for rows.Next() {
		var (
			doc           core.Document
			collaborators string
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Owner, &collaborators,
			&doc.TemplateType, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Collaborators = splitCollaborators(collaborators)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// UserStore implementation

func (s *sqliteStore) CreateUser(ctx context.Context, user *core.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (subject, name, email, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.Subject, user.Name, user.Email, user.PasswordHash, now, now)
	if err != nil {
		logrus.WithField("subject", user.Subject).WithError(err).Error("Failed to create user")
		return err
	}
	return nil
}

func (s *sqliteStore) FindUserBySubject(ctx context.Context, subject string) (*core.User, error) {
	return s.findUser(ctx, "subject = ?", subject)
}

func (s *sqliteStore) FindUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *sqliteStore) findUser(ctx context.Context, where, arg string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx,
		"SELECT subject, name, email, password_hash, created_at, updated_at FROM users WHERE "+where, arg).
		Scan(&user.Subject, &user.Name, &user.Email, &user.PasswordHash,
			&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}
