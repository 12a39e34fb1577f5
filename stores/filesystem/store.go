package filesystem

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/ved-shetye/SyncScript/core"
)

// fsStore persists documents and users as JSON files under a base directory.
// A single mutex serializes writes; read-modify-write cycles on one file are
// not atomic at the filesystem level otherwise.
type fsStore struct {
	basePath string
	mu       sync.Mutex
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{basePath, filepath.Join(basePath, "documents"), filepath.Join(basePath, "users")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) documentPath(id string) string {
	return filepath.Join(s.basePath, "documents", id+".json")
}

func (s *fsStore) userPath(subject string) string {
	return filepath.Join(s.basePath, "users", subject+".json")
}

// validKey rejects ids that could escape the storage directory.
func validKey(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}

func (s *fsStore) readDocument(id string) (*core.Document, error) {
	if !validKey(id) {
		return nil, core.ErrNotFound
	}
	data, err := os.ReadFile(s.documentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *fsStore) writeDocument(doc *core.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(s.documentPath(doc.ID), data, 0644)
}

// DocumentStore implementation

func (s *fsStore) Create(ctx context.Context, document *core.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	now := time.Now()
	document.ID = id
	document.CreatedAt = now
	document.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   s.documentPath(id),
	})
	if err := s.writeDocument(document); err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created")
	return id, nil
}

func (s *fsStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	return s.readDocument(id)
}

func (s *fsStore) SaveContent(ctx context.Context, id string, content json.RawMessage) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument(id)
	if err != nil {
		return nil, err
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	if err := s.writeDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *fsStore) Update(ctx context.Context, id string, upd core.DocumentUpdate) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument(id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Content != nil {
		doc.Content = upd.Content
	}
	doc.UpdatedAt = time.Now()
	if err := s.writeDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *fsStore) AddCollaborator(ctx context.Context, id string, subject string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument(id)
	if err != nil {
		return nil, err
	}
	if !doc.AccessibleBy(subject) {
		doc.Collaborators = append(doc.Collaborators, subject)
		doc.UpdatedAt = time.Now()
		if err := s.writeDocument(doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *fsStore) ListByUser(ctx context.Context, subject string) ([]*core.Document, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "documents"))
	if err != nil {
		return nil, err
	}

	docs := []*core.Document{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		doc, err := s.readDocument(id)
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Warn("Skipping unreadable document")
			continue
		}
		if doc.AccessibleBy(subject) {
			doc.Content = nil
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// UserStore implementation

func (s *fsStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validKey(user.Subject) {
		return os.ErrInvalid
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	data, err := json.Marshal(struct {
		*core.User
		PasswordHash string `json:"passwordHash"`
	}{user, user.PasswordHash})
	if err != nil {
		return err
	}
	return os.WriteFile(s.userPath(user.Subject), data, 0600)
}

func (s *fsStore) FindUserBySubject(ctx context.Context, subject string) (*core.User, error) {
	if !validKey(subject) {
		return nil, core.ErrNotFound
	}
	data, err := os.ReadFile(s.userPath(subject))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return decodeUser(data)
}

func (s *fsStore) FindUserByEmail(ctx context.Context, email string) (*core.User, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "users"))
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, "users", entry.Name()))
		if err != nil {
			continue
		}
		user, err := decodeUser(data)
		if err != nil {
			continue
		}
		if user.Email == email {
			return user, nil
		}
	}
	return nil, core.ErrNotFound
}

func decodeUser(data []byte) (*core.User, error) {
	var stored struct {
		core.User
		PasswordHash string `json:"passwordHash"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	user := stored.User
	user.PasswordHash = stored.PasswordHash
	return &user, nil
}
