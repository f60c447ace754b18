package core

import (
	"fmt"

	"github.com/docuchat/docuchat/internal/store"
	"github.com/sirupsen/logrus"
)

// ChatStore is the persistence surface the conversation service needs.
// Implemented by store.SQLiteStore.
type ChatStore interface {
	ListChats(username string) ([]string, error)
	LoadHistory(username, chatName string) ([]store.Message, error)
	SaveHistory(username, chatName string, messages []store.Message) error
	CreateChat(username, chatName string) (bool, error)
	RenameChat(username, oldName, newName string) (bool, error)
	DeleteChat(username, chatName string) error
}

// ConversationService manages per-user named chat sessions. Read paths
// degrade to empty results with a logged cause; mutations surface failures so
// a dropped write is never silent.
type ConversationService struct {
	chatStore ChatStore
}

func NewConversationService(chatStore ChatStore) *ConversationService {
	return &ConversationService{chatStore: chatStore}
}

// ListChats returns the owner's chat names, most recently updated first when
// the store tracks timestamps.
func (s *ConversationService) ListChats(username string) []string {
	names, err := s.chatStore.ListChats(username)
	if err != nil {
		logrus.Errorf("Failed to list chats for %s: %v", username, err)
		return nil
	}
	return names
}

// Load returns the chat's message sequence. A missing chat or a store failure
// yields an empty history; absence is not an error.
func (s *ConversationService) Load(username, chatName string) []store.Message {
	messages, err := s.chatStore.LoadHistory(username, chatName)
	if err != nil {
		logrus.Errorf("Failed to load history of chat %q for %s: %v", chatName, username, err)
		return []store.Message{}
	}
	return messages
}

// Save overwrites the chat's stored message sequence, creating the chat if
// absent. The caller's in-memory message list is the source of truth; save is
// a flush of that list, not a delta.
func (s *ConversationService) Save(username, chatName string, messages []store.Message) error {
	if err := s.chatStore.SaveHistory(username, chatName, messages); err != nil {
		return fmt.Errorf("failed to save chat %q: %w", chatName, err)
	}
	return nil
}

// Create inserts an empty chat. It reports false when the name is empty or
// already taken by the owner.
func (s *ConversationService) Create(username, chatName string) (bool, error) {
	if chatName == "" {
		return false, nil
	}
	created, err := s.chatStore.CreateChat(username, chatName)
	if err != nil {
		return false, fmt.Errorf("failed to create chat %q: %w", chatName, err)
	}
	return created, nil
}

// Rename changes the chat's name, preserving its messages. It reports false
// when the new name is empty, unchanged or already taken.
func (s *ConversationService) Rename(username, oldName, newName string) (bool, error) {
	renamed, err := s.chatStore.RenameChat(username, oldName, newName)
	if err != nil {
		return false, fmt.Errorf("failed to rename chat %q: %w", oldName, err)
	}
	return renamed, nil
}

// Delete removes the chat. Deleting a non-existent chat succeeds.
func (s *ConversationService) Delete(username, chatName string) error {
	if err := s.chatStore.DeleteChat(username, chatName); err != nil {
		return fmt.Errorf("failed to delete chat %q: %w", chatName, err)
	}
	return nil
}
