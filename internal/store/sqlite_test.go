package store

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateChatDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	created, err := s.CreateChat("alice", "X")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if !created {
		t.Fatalf("expected first create to succeed")
	}

	created, err = s.CreateChat("alice", "X")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if created {
		t.Fatalf("expected duplicate create to report false")
	}

	names, err := s.ListChats("alice")
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected exactly one chat, got %v", names)
	}

	// Same name for a different owner is a different chat.
	created, err = s.CreateChat("bob", "X")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if !created {
		t.Fatalf("expected create for another owner to succeed")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	messages := []Message{
		{Type: RoleHuman, Content: "what is the refund policy?"},
		{Type: RoleAI, Content: "refunds are processed within 14 days"},
		{Type: RoleHuman, Content: "and for digital goods?"},
	}

	if err := s.SaveHistory("alice", "X", messages); err != nil {
		t.Fatalf("SaveHistory() error = %v", err)
	}

	loaded, err := s.LoadHistory("alice", "X")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, messages) {
		t.Fatalf("round trip mismatch: got %v, want %v", loaded, messages)
	}
}

func TestSaveIsFullReplace(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.SaveHistory("alice", "X", []Message{{Type: RoleHuman, Content: "one"}}); err != nil {
		t.Fatalf("SaveHistory() error = %v", err)
	}
	replacement := []Message{{Type: RoleHuman, Content: "two"}, {Type: RoleAI, Content: "three"}}
	if err := s.SaveHistory("alice", "X", replacement); err != nil {
		t.Fatalf("SaveHistory() error = %v", err)
	}

	loaded, err := s.LoadHistory("alice", "X")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, replacement) {
		t.Fatalf("expected full replacement, got %v", loaded)
	}
}

func TestLoadMissingChatIsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	loaded, err := s.LoadHistory("alice", "does-not-exist")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if loaded == nil || len(loaded) != 0 {
		t.Fatalf("expected empty history for missing chat, got %v", loaded)
	}
}

func TestRenameChat(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	messages := []Message{{Type: RoleHuman, Content: "hello"}}
	if err := s.SaveHistory("alice", "X", messages); err != nil {
		t.Fatalf("SaveHistory() error = %v", err)
	}

	renamed, err := s.RenameChat("alice", "X", "Y")
	if err != nil {
		t.Fatalf("RenameChat() error = %v", err)
	}
	if !renamed {
		t.Fatalf("expected rename to succeed")
	}

	loaded, err := s.LoadHistory("alice", "Y")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, messages) {
		t.Fatalf("messages lost on rename: got %v", loaded)
	}

	old, err := s.LoadHistory("alice", "X")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected old name to be empty after rename, got %v", old)
	}
}

func TestRenameChatRejections(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.CreateChat("alice", "X"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := s.CreateChat("alice", "Y"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	tests := []struct {
		name    string
		oldName string
		newName string
	}{
		{"empty new name", "X", ""},
		{"unchanged name", "X", "X"},
		{"name collision", "X", "Y"},
		{"missing old chat", "Z", "W"},
	}
	for _, tt := range tests {
		renamed, err := s.RenameChat("alice", tt.oldName, tt.newName)
		if err != nil {
			t.Fatalf("%s: RenameChat() error = %v", tt.name, err)
		}
		if renamed {
			t.Fatalf("%s: expected rename to report false", tt.name)
		}
	}
}

func TestDeleteChatIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.SaveHistory("alice", "X", []Message{{Type: RoleHuman, Content: "hi"}}); err != nil {
		t.Fatalf("SaveHistory() error = %v", err)
	}

	if err := s.DeleteChat("alice", "X"); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if err := s.DeleteChat("alice", "X"); err != nil {
		t.Fatalf("second DeleteChat() error = %v", err)
	}

	loaded, err := s.LoadHistory("alice", "X")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty history after delete, got %v", loaded)
	}
}

func TestListChatsOrderedByRecency(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.CreateChat("alice", "older"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.CreateChat("alice", "newer"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	names, err := s.ListChats("alice")
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"newer", "older"}) {
		t.Fatalf("unexpected order: %v", names)
	}

	// Saving bumps updated_at and moves the chat to the front.
	time.Sleep(20 * time.Millisecond)
	if err := s.SaveHistory("alice", "older", []Message{{Type: RoleHuman, Content: "hi"}}); err != nil {
		t.Fatalf("SaveHistory() error = %v", err)
	}
	names, err = s.ListChats("alice")
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"older", "newer"}) {
		t.Fatalf("save did not reorder chats: %v", names)
	}
}

func chunkFor(username, source, content string, embedding []float32) DocumentChunk {
	return DocumentChunk{
		Content:   content,
		Embedding: embedding,
		Metadata: map[string]string{
			MetaUsername: username,
			MetaSource:   source,
		},
	}
}

func TestChunkOwnerIsolation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Both users upload a file with the identical name.
	err := s.InsertChunks([]DocumentChunk{
		chunkFor("alice", "report.pdf", "alice chunk one", []float32{1, 0}),
		chunkFor("alice", "report.pdf", "alice chunk two", []float32{0, 1}),
		chunkFor("bob", "report.pdf", "bob chunk", []float32{1, 1}),
	})
	if err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}

	aliceChunks, err := s.GetChunksByOwner("alice")
	if err != nil {
		t.Fatalf("GetChunksByOwner() error = %v", err)
	}
	if len(aliceChunks) != 2 {
		t.Fatalf("expected 2 chunks for alice, got %d", len(aliceChunks))
	}
	for _, chunk := range aliceChunks {
		if chunk.Metadata[MetaUsername] != "alice" {
			t.Fatalf("leaked chunk from another owner: %v", chunk.Metadata)
		}
	}

	// Deleting alice's file must not touch bob's chunks.
	if err := s.DeleteSource("alice", "report.pdf"); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}
	aliceChunks, err = s.GetChunksByOwner("alice")
	if err != nil {
		t.Fatalf("GetChunksByOwner() error = %v", err)
	}
	if len(aliceChunks) != 0 {
		t.Fatalf("expected alice's chunks to be gone, got %d", len(aliceChunks))
	}
	bobChunks, err := s.GetChunksByOwner("bob")
	if err != nil {
		t.Fatalf("GetChunksByOwner() error = %v", err)
	}
	if len(bobChunks) != 1 {
		t.Fatalf("bob's chunks were affected by alice's delete: got %d", len(bobChunks))
	}
}

func TestListSourcesDistinctBasenames(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.InsertChunks([]DocumentChunk{
		chunkFor("alice", "uploads/notes.txt", "a", []float32{1}),
		chunkFor("alice", "uploads/notes.txt", "b", []float32{1}),
		chunkFor("alice", "report.pdf", "c", []float32{1}),
		chunkFor("bob", "secret.docx", "d", []float32{1}),
	})
	if err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}

	sources, err := s.ListSources("alice")
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if !reflect.DeepEqual(sources, []string{"notes.txt", "report.pdf"}) {
		t.Fatalf("unexpected sources: %v", sources)
	}
}

func TestDeleteSourceIdempotentAndSubstring(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.DeleteSource("alice", "never-uploaded.txt"); err != nil {
		t.Fatalf("deleting a non-existent source should succeed, got %v", err)
	}

	err := s.InsertChunks([]DocumentChunk{
		chunkFor("alice", "quarterly notes.txt", "a", []float32{1}),
	})
	if err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}
	if err := s.DeleteSource("alice", "notes.txt"); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}
	chunks, err := s.GetChunksByOwner("alice")
	if err != nil {
		t.Fatalf("GetChunksByOwner() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("substring delete did not remove chunks: %d left", len(chunks))
	}
}

func TestInsertChunksRequiresOwner(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.InsertChunks([]DocumentChunk{
		{Content: "orphan", Metadata: map[string]string{MetaSource: "x.txt"}},
	})
	if err == nil {
		t.Fatalf("expected error for chunk without owner metadata")
	}

	chunks, err := s.GetChunksByOwner("")
	if err != nil {
		t.Fatalf("GetChunksByOwner() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("rejected batch must not be written, found %d chunks", len(chunks))
	}
}

func TestInsertChunksEmptyBatch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.InsertChunks(nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}
}

func TestChunkEmbeddingRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	want := []float32{0.25, -1.5, 3}
	if err := s.InsertChunks([]DocumentChunk{chunkFor("alice", "f.txt", "text", want)}); err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}

	chunks, err := s.GetChunksByOwner("alice")
	if err != nil {
		t.Fatalf("GetChunksByOwner() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if !reflect.DeepEqual(chunks[0].Embedding, want) {
		t.Fatalf("embedding round trip mismatch: got %v, want %v", chunks[0].Embedding, want)
	}
}
