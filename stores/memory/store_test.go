package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ved-shetye/SyncScript/core"
)

func TestCreateAndFindDocument(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{
		Title:   "Untitled Document",
		Content: json.RawMessage(`"Hello"`),
		Owner:   "alice",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if len(id) != 26 {
		t.Errorf("Create() returned invalid ID length: got %d, want 26", len(id))
	}

	doc, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if doc.Owner != "alice" || string(doc.Content) != `"Hello"` {
		t.Errorf("FindID() = owner %q content %s", doc.Owner, doc.Content)
	}
	if doc.CreatedAt.IsZero() || doc.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}
}

func TestFindMissingDocument(t *testing.T) {
	store := NewStore()
	if _, err := store.FindID(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindID(missing) error = %v, want core.ErrNotFound", err)
	}
}

func TestSaveContentRefreshesUpdatedAt(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{Content: json.RawMessage(`"a"`), Owner: "alice"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	before, _ := store.FindID(ctx, id)

	doc, err := store.SaveContent(ctx, id, json.RawMessage(`"b"`))
	if err != nil {
		t.Fatalf("SaveContent() failed: %v", err)
	}
	if string(doc.Content) != `"b"` {
		t.Errorf("content after save = %s, want %q", doc.Content, `"b"`)
	}
	if doc.UpdatedAt.Before(before.UpdatedAt) {
		t.Error("UpdatedAt went backwards after save")
	}

	if _, err := store.SaveContent(ctx, "nope", json.RawMessage(`"b"`)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("SaveContent(missing) error = %v, want core.ErrNotFound", err)
	}
}

func TestUpdateFields(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{Title: "old", Content: json.RawMessage(`"a"`), Owner: "alice"})

	title := "new"
	doc, err := store.Update(ctx, id, core.DocumentUpdate{Title: &title})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if doc.Title != "new" || string(doc.Content) != `"a"` {
		t.Errorf("Update(title only) = title %q content %s", doc.Title, doc.Content)
	}

	doc, err = store.Update(ctx, id, core.DocumentUpdate{Content: json.RawMessage(`"c"`)})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if doc.Title != "new" || string(doc.Content) != `"c"` {
		t.Errorf("Update(content only) = title %q content %s", doc.Title, doc.Content)
	}
}

func TestAddCollaboratorIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{Owner: "alice"})

	if _, err := store.AddCollaborator(ctx, id, "carol"); err != nil {
		t.Fatalf("AddCollaborator() failed: %v", err)
	}
	doc, err := store.AddCollaborator(ctx, id, "carol")
	if err != nil {
		t.Fatalf("AddCollaborator() failed: %v", err)
	}
	if len(doc.Collaborators) != 1 {
		t.Errorf("collaborators = %v, want exactly one entry", doc.Collaborators)
	}

	// The owner never appears in their own collaborator set.
	doc, _ = store.AddCollaborator(ctx, id, "alice")
	if len(doc.Collaborators) != 1 {
		t.Errorf("collaborators after adding owner = %v, want unchanged", doc.Collaborators)
	}
}

func TestListByUser(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	owned, _ := store.Create(ctx, &core.Document{Owner: "alice", Content: json.RawMessage(`"x"`)})
	shared, _ := store.Create(ctx, &core.Document{Owner: "bob", Collaborators: []string{"alice"}})
	store.Create(ctx, &core.Document{Owner: "bob"})

	docs, err := store.ListByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByUser() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("ListByUser() returned %d documents, want 2", len(docs))
	}
	ids := map[string]bool{docs[0].ID: true, docs[1].ID: true}
	if !ids[owned] || !ids[shared] {
		t.Errorf("ListByUser() = %v, want %v and %v", ids, owned, shared)
	}
	for _, doc := range docs {
		if doc.Content != nil {
			t.Errorf("list view includes content for %s", doc.ID)
		}
	}
}

func TestUserRoundTrip(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	user := &core.User{Subject: "u1", Name: "Alice", Email: "alice@example.com", PasswordHash: "h"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}

	bySubject, err := store.FindUserBySubject(ctx, "u1")
	if err != nil {
		t.Fatalf("FindUserBySubject() failed: %v", err)
	}
	if bySubject.Email != "alice@example.com" || bySubject.PasswordHash != "h" {
		t.Errorf("FindUserBySubject() = %+v", bySubject)
	}

	byEmail, err := store.FindUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail() failed: %v", err)
	}
	if byEmail.Subject != "u1" {
		t.Errorf("FindUserByEmail() subject = %q, want u1", byEmail.Subject)
	}

	if _, err := store.FindUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindUserByEmail(missing) error = %v, want core.ErrNotFound", err)
	}
}
