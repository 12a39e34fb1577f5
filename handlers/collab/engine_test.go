package collab

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ved-shetye/SyncScript/access"
	"github.com/ved-shetye/SyncScript/core"
	"github.com/ved-shetye/SyncScript/stores/memory"
)

type engineFixture struct {
	engine *Engine
	store  core.DocumentStore
	rooms  *Registry
}

func newEngineFixture(t *testing.T, docs core.DocumentStore) *engineFixture {
	t.Helper()
	rooms := NewRegistry()
	return &engineFixture{
		engine: NewEngine(access.NewGuard(docs), docs, rooms),
		store:  docs,
		rooms:  rooms,
	}
}

func createDoc(t *testing.T, store core.DocumentStore, owner, content string, collaborators ...string) string {
	t.Helper()
	id, err := store.Create(context.Background(), &core.Document{
		Title:         "Untitled Document",
		Content:       json.RawMessage(content),
		Owner:         owner,
		Collaborators: collaborators,
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return id
}

func TestJoinDeliversSnapshotToRequesterOnly(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `"Hello"`)

	alice, aliceConn := newTestSession("s1", "alice")
	other, otherConn := newTestSession("s2", "alice")
	fx.rooms.Join(docID, other)

	fx.engine.HandleJoin(context.Background(), alice, docID)

	got := aliceConn.received(EventDocumentContent)
	if len(got) != 1 {
		t.Fatalf("requester received %d document-content events, want 1", len(got))
	}
	content, ok := got[0].args[0].(json.RawMessage)
	if !ok {
		t.Fatalf("document-content payload has type %T, want json.RawMessage", got[0].args[0])
	}
	if string(content) != `"Hello"` {
		t.Errorf("document-content = %s, want %q", content, `"Hello"`)
	}
	if peers := otherConn.received(EventDocumentContent); len(peers) != 0 {
		t.Errorf("peer received %d document-content events, want 0", len(peers))
	}
	if fx.rooms.RoomSize(docID) != 2 {
		t.Errorf("RoomSize = %d, want 2", fx.rooms.RoomSize(docID))
	}
}

func TestJoinRefusedForStranger(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `"Hello"`)

	bob, bobConn := newTestSession("s1", "bob")
	fx.engine.HandleJoin(context.Background(), bob, docID)

	if got := bobConn.received(EventDocumentContent); len(got) != 0 {
		t.Errorf("stranger received %d document-content events, want 0", len(got))
	}
	if got := bobConn.received(EventError); len(got) != 1 {
		t.Fatalf("stranger received %d errors, want 1", len(got))
	}
	if fx.rooms.RoomSize(docID) != 0 {
		t.Errorf("RoomSize after refused join = %d, want 0", fx.rooms.RoomSize(docID))
	}

	// A later broadcast must not reach the refused session.
	fx.rooms.Broadcast(docID, EventTextChange, "x", nil)
	if got := bobConn.received(EventTextChange); len(got) != 0 {
		t.Errorf("refused session received %d broadcasts, want 0", len(got))
	}
}

func TestJoinMissingDocumentLooksLikeUnauthorized(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `"Hello"`)

	bob, bobConn := newTestSession("s1", "bob")
	fx.engine.HandleJoin(context.Background(), bob, docID)

	carol, carolConn := newTestSession("s2", "carol")
	fx.engine.HandleJoin(context.Background(), carol, "no-such-document")

	bobErrs := bobConn.received(EventError)
	carolErrs := carolConn.received(EventError)
	if len(bobErrs) != 1 || len(carolErrs) != 1 {
		t.Fatalf("got %d and %d errors, want 1 and 1", len(bobErrs), len(carolErrs))
	}
	if bobErrs[0].args[0] != carolErrs[0].args[0] {
		t.Errorf("unauthorized error %q differs from not-found error %q",
			bobErrs[0].args[0], carolErrs[0].args[0])
	}
}

func TestCollaboratorCanJoin(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `"Hello"`, "carol")

	carol, carolConn := newTestSession("s1", "carol")
	fx.engine.HandleJoin(context.Background(), carol, docID)

	if got := carolConn.received(EventDocumentContent); len(got) != 1 {
		t.Errorf("collaborator received %d document-content events, want 1", len(got))
	}
}

func TestTextChangePersistsAndBroadcasts(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `"Hello"`, "carol")

	alice, aliceConn := newTestSession("s1", "alice")
	carol, carolConn := newTestSession("s2", "carol")
	fx.engine.HandleJoin(context.Background(), alice, docID)
	fx.engine.HandleJoin(context.Background(), carol, docID)

	fx.engine.HandleTextChange(context.Background(), alice, map[string]any{
		"documentId": docID,
		"content":    "Hello World",
	})

	doc, err := fx.store.FindID(context.Background(), docID)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if string(doc.Content) != `"Hello World"` {
		t.Errorf("stored content = %s, want %q", doc.Content, `"Hello World"`)
	}

	got := carolConn.received(EventTextChange)
	if len(got) != 1 {
		t.Fatalf("peer received %d text-change events, want 1", len(got))
	}
	if string(got[0].args[0].(json.RawMessage)) != `"Hello World"` {
		t.Errorf("broadcast content = %s, want %q", got[0].args[0], `"Hello World"`)
	}
	if echoes := aliceConn.received(EventTextChange); len(echoes) != 0 {
		t.Errorf("sender received %d of its own broadcasts, want 0", len(echoes))
	}
}

func TestTextChangeRechecksAccess(t *testing.T) {
	store := memory.NewStore()
	fx := newEngineFixture(t, store)
	docID := createDoc(t, fx.store, "alice", `"Hello"`)

	bob, bobConn := newTestSession("s1", "bob")
	// bob was never authorized; even with forged room membership the write
	// path must refuse him.
	fx.rooms.Join(docID, bob)

	fx.engine.HandleTextChange(context.Background(), bob, map[string]any{
		"documentId": docID,
		"content":    "hijacked",
	})

	doc, err := fx.store.FindID(context.Background(), docID)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if string(doc.Content) != `"Hello"` {
		t.Errorf("stored content = %s, want unchanged %q", doc.Content, `"Hello"`)
	}
	if got := bobConn.received(EventError); len(got) != 1 {
		t.Errorf("unauthorized editor received %d errors, want 1", len(got))
	}
}

// failingSaveStore wraps a DocumentStore and fails every SaveContent.
type failingSaveStore struct {
	core.DocumentStore
}

func (s *failingSaveStore) SaveContent(ctx context.Context, id string, content json.RawMessage) (*core.Document, error) {
	return nil, errors.New("store unavailable")
}

func TestPersistenceFailureIsScopedToSender(t *testing.T) {
	backing := memory.NewStore()
	docID := createDoc(t, backing, "alice", `"Hello"`, "carol")
	fx := newEngineFixture(t, &failingSaveStore{backing})

	alice, aliceConn := newTestSession("s1", "alice")
	carol, carolConn := newTestSession("s2", "carol")
	fx.engine.HandleJoin(context.Background(), alice, docID)
	fx.engine.HandleJoin(context.Background(), carol, docID)

	fx.engine.HandleTextChange(context.Background(), alice, map[string]any{
		"documentId": docID,
		"content":    "lost update",
	})

	if got := aliceConn.received(EventError); len(got) != 1 {
		t.Errorf("sender received %d errors, want 1", len(got))
	}
	if got := carolConn.received(EventTextChange); len(got) != 0 {
		t.Errorf("peer received %d broadcasts after failed save, want 0", len(got))
	}
	if got := carolConn.received(EventError); len(got) != 0 {
		t.Errorf("peer received %d errors, want 0", len(got))
	}
	// Membership survives a failed save.
	if fx.rooms.RoomSize(docID) != 2 {
		t.Errorf("RoomSize after failed save = %d, want 2", fx.rooms.RoomSize(docID))
	}
}

func TestEditsFromOneSessionPersistInOrder(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `""`)

	alice, _ := newTestSession("s1", "alice")
	fx.engine.HandleJoin(context.Background(), alice, docID)

	for _, content := range []string{"E1", "E2"} {
		fx.engine.HandleTextChange(context.Background(), alice, map[string]any{
			"documentId": docID,
			"content":    content,
		})
	}

	doc, err := fx.store.FindID(context.Background(), docID)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if string(doc.Content) != `"E2"` {
		t.Errorf("stored content = %s, want %q", doc.Content, `"E2"`)
	}
}

func TestConcurrentEditsLastWriterWins(t *testing.T) {
	// Two sessions write different content; no merge happens. Whichever
	// save lands last is what the store holds, and each broadcast carried
	// its sender's own version.
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `""`, "carol")

	alice, _ := newTestSession("s1", "alice")
	carol, _ := newTestSession("s2", "carol")
	observer, observerConn := newTestSession("s3", "alice")
	fx.engine.HandleJoin(context.Background(), alice, docID)
	fx.engine.HandleJoin(context.Background(), carol, docID)
	fx.engine.HandleJoin(context.Background(), observer, docID)

	fx.engine.HandleTextChange(context.Background(), alice, map[string]any{
		"documentId": docID, "content": "from alice",
	})
	fx.engine.HandleTextChange(context.Background(), carol, map[string]any{
		"documentId": docID, "content": "from carol",
	})

	doc, err := fx.store.FindID(context.Background(), docID)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if string(doc.Content) != `"from carol"` {
		t.Errorf("stored content = %s, want last write %q", doc.Content, `"from carol"`)
	}

	// The observer saw both versions, each as sent, not merged.
	seen := observerConn.received(EventTextChange)
	if len(seen) != 2 {
		t.Fatalf("observer received %d text-change events, want 2", len(seen))
	}
	if string(seen[0].args[0].(json.RawMessage)) != `"from alice"` ||
		string(seen[1].args[0].(json.RawMessage)) != `"from carol"` {
		t.Errorf("observer saw %s then %s, want each sender's own version",
			seen[0].args[0], seen[1].args[0])
	}
}

func TestDisconnectCleanup(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())
	docID := createDoc(t, fx.store, "alice", `"Hello"`, "carol")

	alice, aliceConn := newTestSession("s1", "alice")
	carol, _ := newTestSession("s2", "carol")
	fx.engine.HandleJoin(context.Background(), alice, docID)
	fx.engine.HandleJoin(context.Background(), carol, docID)

	fx.engine.HandleDisconnect(alice)

	fx.engine.HandleTextChange(context.Background(), carol, map[string]any{
		"documentId": docID,
		"content":    "after alice left",
	})

	if got := aliceConn.received(EventTextChange); len(got) != 0 {
		t.Errorf("disconnected session received %d broadcasts, want 0", len(got))
	}
	if fx.rooms.RoomSize(docID) != 1 {
		t.Errorf("RoomSize after disconnect = %d, want 1", fx.rooms.RoomSize(docID))
	}
}

func TestMalformedTextChangePayload(t *testing.T) {
	fx := newEngineFixture(t, memory.NewStore())

	alice, aliceConn := newTestSession("s1", "alice")
	fx.engine.HandleTextChange(context.Background(), alice, "not an object")

	if got := aliceConn.received(EventError); len(got) != 1 {
		t.Errorf("received %d errors for malformed payload, want 1", len(got))
	}
}
