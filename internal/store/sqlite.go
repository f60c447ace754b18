package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"
)

type SQLiteStore struct {
	db *sql.DB

	// Capability flag probed once at startup. Databases created by older
	// versions of the schema may lack the chat timestamp columns; all
	// timestamp-dependent queries branch on this instead of speculatively
	// retrying without the columns.
	hasChatTimestamps bool
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err = store.probeCapabilities(); err != nil {
		return nil, fmt.Errorf("failed to probe schema capabilities: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        username TEXT NOT NULL,
        chat_name TEXT NOT NULL,
        messages TEXT NOT NULL DEFAULT '[]', -- JSON array of {type, content}
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (username, chat_name)
    );

    CREATE TABLE IF NOT EXISTS documents (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT NOT NULL, -- denormalized from metadata for filtering
        content TEXT NOT NULL,
        embedding_json TEXT, -- JSON string of []float32
        metadata_json TEXT NOT NULL -- JSON object, always contains username and source
    );

    CREATE INDEX IF NOT EXISTS idx_documents_username ON documents (username);
    `
	_, err := s.db.Exec(schema)
	return err
}

// probeCapabilities checks once whether the chats table carries the optional
// timestamp columns, so per-call code never has to try-and-fall-back.
func (s *SQLiteStore) probeCapabilities() error {
	rows, err := s.db.Query(`PRAGMA table_info(chats)`)
	if err != nil {
		return fmt.Errorf("failed to inspect chats table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == "updated_at" {
			s.hasChatTimestamps = true
		}
	}
	if !s.hasChatTimestamps {
		logrus.Warn("chats table has no updated_at column; chat listing will not be ordered by recency")
	}
	return rows.Err()
}

// User methods

func (s *SQLiteStore) GetUserByEmail(email string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, email, password_hash, created_at FROM users WHERE email = ?", email).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(email, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (email, password_hash) VALUES (?, ?)", email, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()

	var user User
	err = s.db.QueryRow("SELECT id, email, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Chat methods

// ListChats returns the owner's chat names, most recently updated first when
// the store supports timestamps.
func (s *SQLiteStore) ListChats(username string) ([]string, error) {
	query := "SELECT chat_name FROM chats WHERE username = ?"
	if s.hasChatTimestamps {
		query += " ORDER BY updated_at DESC"
	} else {
		query += " ORDER BY rowid"
	}

	rows, err := s.db.Query(query, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LoadHistory returns the persisted message sequence for the chat, or an empty
// slice if the chat does not exist. Absence is not an error.
func (s *SQLiteStore) LoadHistory(username, chatName string) ([]Message, error) {
	var messagesJSON string
	err := s.db.QueryRow("SELECT messages FROM chats WHERE username = ? AND chat_name = ?", username, chatName).
		Scan(&messagesJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}

	var messages []Message
	if messagesJSON != "" {
		if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat history: %w", err)
		}
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}

// SaveHistory is a full-replace upsert of the chat's message sequence. The row
// is created if absent; updated_at is bumped when the column exists.
func (s *SQLiteStore) SaveHistory(username, chatName string, messages []Message) error {
	if messages == nil {
		messages = []Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal chat history: %w", err)
	}

	now := time.Now()
	if s.hasChatTimestamps {
		_, err = s.db.Exec(`
            INSERT INTO chats (id, username, chat_name, messages, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON CONFLICT (username, chat_name)
            DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
			uuid.NewString(), username, chatName, string(messagesJSON), now, now)
	} else {
		_, err = s.db.Exec(`
            INSERT INTO chats (id, username, chat_name, messages)
            VALUES (?, ?, ?, ?)
            ON CONFLICT (username, chat_name)
            DO UPDATE SET messages = excluded.messages`,
			uuid.NewString(), username, chatName, string(messagesJSON))
	}
	if err != nil {
		return fmt.Errorf("failed to save chat history: %w", err)
	}
	return nil
}

// CreateChat inserts an empty chat and reports whether it was created. A chat
// with the same name for the same owner makes this a no-op returning false.
// The check-then-insert is not race-free on its own; the UNIQUE (username,
// chat_name) constraint is the backstop.
func (s *SQLiteStore) CreateChat(username, chatName string) (bool, error) {
	exists, err := s.chatExists(username, chatName)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	now := time.Now()
	if s.hasChatTimestamps {
		_, err = s.db.Exec(
			"INSERT INTO chats (id, username, chat_name, messages, created_at, updated_at) VALUES (?, ?, ?, '[]', ?, ?)",
			uuid.NewString(), username, chatName, now, now)
	} else {
		_, err = s.db.Exec(
			"INSERT INTO chats (id, username, chat_name, messages) VALUES (?, ?, ?, '[]')",
			uuid.NewString(), username, chatName)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil // Lost the race to a concurrent create
		}
		return false, fmt.Errorf("failed to insert chat: %w", err)
	}
	return true, nil
}

// RenameChat updates the chat's name, leaving messages untouched. It reports
// false when the new name is empty, unchanged, already taken by the owner, or
// when the old chat does not exist.
func (s *SQLiteStore) RenameChat(username, oldName, newName string) (bool, error) {
	if newName == "" || newName == oldName {
		return false, nil
	}

	exists, err := s.chatExists(username, newName)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	var res sql.Result
	if s.hasChatTimestamps {
		res, err = s.db.Exec(
			"UPDATE chats SET chat_name = ?, updated_at = ? WHERE username = ? AND chat_name = ?",
			newName, time.Now(), username, oldName)
	} else {
		res, err = s.db.Exec(
			"UPDATE chats SET chat_name = ? WHERE username = ? AND chat_name = ?",
			newName, username, oldName)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to rename chat: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// DeleteChat removes the chat row. Deleting a non-existent chat is a no-op.
func (s *SQLiteStore) DeleteChat(username, chatName string) error {
	_, err := s.db.Exec("DELETE FROM chats WHERE username = ? AND chat_name = ?", username, chatName)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) chatExists(username, chatName string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM chats WHERE username = ? AND chat_name = ?", username, chatName).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check chat existence: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Document chunk methods

// InsertChunks persists a batch of embedded chunks. Every chunk must carry its
// owner in metadata; a chunk without one is rejected before anything is written.
func (s *SQLiteStore) InsertChunks(chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, chunk := range chunks {
		if chunk.Metadata[MetaUsername] == "" {
			return fmt.Errorf("chunk %d has no owner in metadata", i)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO documents (username, content, embedding_json, metadata_json) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.Exec(chunk.Metadata[MetaUsername], chunk.Content, string(embeddingJSON), string(metadataJSON)); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk batch: %w", err)
	}
	return nil
}

// GetChunksByOwner loads all chunks belonging to the owner. The SQL filter is
// re-checked against the stored metadata; a row whose metadata disagrees with
// its username column is never returned.
func (s *SQLiteStore) GetChunksByOwner(username string) ([]DocumentChunk, error) {
	rows, err := s.db.Query("SELECT id, content, embedding_json, metadata_json FROM documents WHERE username = ?", username)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []DocumentChunk
	for rows.Next() {
		var (
			chunk         DocumentChunk
			embeddingJSON sql.NullString
			metadataJSON  string
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &embeddingJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}

		if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
			logrus.Warnf("Skipping chunk %d with unreadable metadata: %v", chunk.ID, err)
			continue
		}
		if chunk.Metadata[MetaUsername] != username {
			logrus.Warnf("Skipping chunk %d whose metadata owner does not match row owner", chunk.ID)
			continue
		}

		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				logrus.Warnf("Failed to unmarshal embedding for chunk %d: %v. Embedding will be empty.", chunk.ID, err)
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ListSources returns the distinct source filenames among the owner's chunks,
// normalized to basenames, sorted. Always read fresh from the store.
func (s *SQLiteStore) ListSources(username string) ([]string, error) {
	rows, err := s.db.Query("SELECT metadata_json FROM documents WHERE username = ?", username)
	if err != nil {
		return nil, fmt.Errorf("failed to query document sources: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var metadataJSON string
		if err := rows.Scan(&metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		var metadata map[string]string
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			logrus.Warnf("Skipping document row with unreadable metadata: %v", err)
			continue
		}
		if metadata[MetaUsername] != username {
			continue
		}
		if source := metadata[MetaSource]; source != "" {
			seen[filepath.Base(source)] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(seen))
	for source := range seen {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources, nil
}

// DeleteSource removes all of the owner's chunks whose source filename
// contains the given name. Deleting a non-existent source is a success no-op.
func (s *SQLiteStore) DeleteSource(username, sourceFilename string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id, metadata_json FROM documents WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to query chunks for deletion: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var (
			id           int64
			metadataJSON string
		)
		if err := rows.Scan(&id, &metadataJSON); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan chunk row: %w", err)
		}
		var metadata map[string]string
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			continue
		}
		if metadata[MetaUsername] == username && strings.Contains(metadata[MetaSource], sourceFilename) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete chunk %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit source deletion: %w", err)
	}
	return nil
}
