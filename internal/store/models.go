package store

import "time"

// Message roles as persisted in the chats.messages JSON column.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Metadata keys every document chunk must carry.
const (
	MetaUsername = "username"
	MetaSource   = "source"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

// Message is a single turn of a conversation. Type is "human" or "ai".
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type Chat struct {
	ID        string    `json:"id"` // Using UUID for external ID
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentChunk is one retrieval unit of an uploaded document. Metadata always
// contains the owning username and the source filename; the username is the
// sole isolation mechanism between users' knowledge bases.
type DocumentChunk struct {
	ID        int64             `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"-"` // Internal, not part of API responses
	Metadata  map[string]string `json:"metadata"`
}
