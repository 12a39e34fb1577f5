package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/ved-shetye/SyncScript/core"
)

// memStore implements both DocumentStore and UserStore for in-memory storage.
// Useful for development and tests; nothing survives a restart.
type memStore struct {
	mu        sync.RWMutex
	documents map[string]*core.Document
	users     map[string]*core.User // keyed by subject
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		documents: make(map[string]*core.Document),
		users:     make(map[string]*core.User),
	}
}

func cloneDocument(d *core.Document) *core.Document {
	cp := *d
	cp.Content = append(json.RawMessage(nil), d.Content...)
	cp.Collaborators = append([]string(nil), d.Collaborators...)
	return &cp
}

// Create stores a new document. Part of the DocumentStore interface.
func (s *memStore) Create(ctx context.Context, document *core.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	now := time.Now()
	document.ID = id
	document.CreatedAt = now
	document.UpdatedAt = now
	s.documents[id] = cloneDocument(document)

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner":       document.Owner,
	}).Info("Document created")
	return id, nil
}

// FindID retrieves a document by its ID. Part of the DocumentStore interface.
func (s *memStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneDocument(doc), nil
}

// SaveContent replaces the document content, last write wins.
func (s *memStore) SaveContent(ctx context.Context, id string, content json.RawMessage) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	doc.Content = append(json.RawMessage(nil), content...)
	doc.UpdatedAt = time.Now()
	return cloneDocument(doc), nil
}

// Update applies the non-nil fields of upd.
func (s *memStore) Update(ctx context.Context, id string, upd core.DocumentUpdate) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Content != nil {
		doc.Content = append(json.RawMessage(nil), upd.Content...)
	}
	doc.UpdatedAt = time.Now()
	return cloneDocument(doc), nil
}

// AddCollaborator grants subject access; adding twice is a no-op.
func (s *memStore) AddCollaborator(ctx context.Context, id string, subject string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !doc.AccessibleBy(subject) {
		doc.Collaborators = append(doc.Collaborators, subject)
		doc.UpdatedAt = time.Now()
	}
	return cloneDocument(doc), nil
}

// ListByUser returns documents the subject owns or collaborates on, without
// content.
func (s *memStore) ListByUser(ctx context.Context, subject string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := []*core.Document{}
	for _, doc := range s.documents {
		if doc.AccessibleBy(subject) {
			cp := cloneDocument(doc)
			cp.Content = nil
			docs = append(docs, cp)
		}
	}
	return docs, nil
}

// CreateUser stores a new user. Part of the UserStore interface.
func (s *memStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	s.users[user.Subject] = &cp

	logrus.WithField("subject", user.Subject).Info("User created")
	return nil
}

func (s *memStore) FindUserBySubject(ctx context.Context, subject string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[subject]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *memStore) FindUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}
