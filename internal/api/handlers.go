package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/core"
	"github.com/docuchat/docuchat/internal/ingest"
	"github.com/docuchat/docuchat/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// maxUploadBytes caps a whole multipart upload batch.
const maxUploadBytes = 64 << 20

type contextKey string

// usernameKey carries the authenticated username through the request context.
// Every core operation is scoped by it.
const usernameKey contextKey = "username"

// UserStore is the identity persistence the handlers need.
// Implemented by store.SQLiteStore.
type UserStore interface {
	GetUserByEmail(email string) (*store.User, error)
	CreateUser(email, passwordHash string) (*store.User, error)
}

type APIHandler struct {
	users        UserStore
	conversation *core.ConversationService
	knowledge    *core.KnowledgeService
	rag          *core.RAGService
	splitter     *ingest.Splitter
}

func NewAPIHandler(users UserStore, conversation *core.ConversationService, knowledge *core.KnowledgeService, rag *core.RAGService, splitter *ingest.Splitter) *APIHandler {
	return &APIHandler{
		users:        users,
		conversation: conversation,
		knowledge:    knowledge,
		rag:          rag,
		splitter:     splitter,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		username, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.users.GetUserByEmail(username)
		if err != nil {
			logrus.Errorf("Failed to resolve user %s: %v", username, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, user.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(r *http.Request) string {
	username, _ := r.Context().Value(usernameKey).(string)
	return username
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	existing, err := h.users.GetUserByEmail(req.Email)
	if err != nil {
		logrus.Errorf("Failed to check existing user %s: %v", req.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "This email address is already registered", http.StatusConflict)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		logrus.Errorf("Failed to hash password for %s: %v", req.Email, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.users.CreateUser(req.Email, hashedPassword)
	if err != nil {
		logrus.Errorf("Failed to create user %s: %v", req.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.users.GetUserByEmail(req.Email)
	if err != nil {
		logrus.Errorf("Failed to look up user %s: %v", req.Email, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(user.Email)
	if err != nil {
		logrus.Errorf("Failed to generate JWT for %s: %v", req.Email, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// LogoutHandler ends the session. Tokens are stateless, so the server only
// acknowledges; the client discards the token.
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Chat handlers

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	names := h.conversation.ListChats(usernameFrom(r))
	if names == nil {
		names = []string{}
	}
	json.NewEncoder(w).Encode(map[string][]string{"chats": names})
}

type CreateChatRequest struct {
	Name string `json:"name"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "Chat name cannot be empty", http.StatusBadRequest)
		return
	}

	username := usernameFrom(r)
	created, err := h.conversation.Create(username, req.Name)
	if err != nil {
		logrus.Errorf("Failed to create chat %q for %s: %v", req.Name, username, err)
		http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}
	if !created {
		http.Error(w, "A chat with this name already exists", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"name": req.Name})
}

type ChatResponse struct {
	Name     string          `json:"name"`
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	chatName := chatNameParam(r)
	messages := h.conversation.Load(usernameFrom(r), chatName)
	json.NewEncoder(w).Encode(ChatResponse{Name: chatName, Messages: messages})
}

type RenameChatRequest struct {
	Name string `json:"name"`
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	var req RenameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	username := usernameFrom(r)
	oldName := chatNameParam(r)
	renamed, err := h.conversation.Rename(username, oldName, strings.TrimSpace(req.Name))
	if err != nil {
		logrus.Errorf("Failed to rename chat %q for %s: %v", oldName, username, err)
		http.Error(w, "Failed to rename chat", http.StatusInternalServerError)
		return
	}
	if !renamed {
		http.Error(w, "Chat could not be renamed", http.StatusConflict)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"name": req.Name})
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r)
	chatName := chatNameParam(r)
	if err := h.conversation.Delete(username, chatName); err != nil {
		logrus.Errorf("Failed to delete chat %q for %s: %v", chatName, username, err)
		http.Error(w, "Failed to delete chat", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type PostMessageResponse struct {
	Answer   string          `json:"answer"`
	Messages []store.Message `json:"messages"`
}

// PostMessageHandler runs one question-answer turn: load the chat's history,
// answer grounded in the user's documents, append both turns and flush the
// full message list back to the store.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}

	username := usernameFrom(r)
	chatName := chatNameParam(r)

	history := h.conversation.Load(username, chatName)
	answer, err := h.rag.Answer(r.Context(), username, req.Content, history)
	if err != nil {
		logrus.Errorf("Failed to answer in chat %q for %s: %v", chatName, username, err)
		http.Error(w, "Failed to generate an answer", http.StatusBadGateway)
		return
	}

	messages := append(history,
		store.Message{Type: store.RoleHuman, Content: req.Content},
		store.Message{Type: store.RoleAI, Content: answer},
	)
	if err := h.conversation.Save(username, chatName, messages); err != nil {
		logrus.Errorf("Failed to save chat %q for %s: %v", chatName, username, err)
		http.Error(w, "Answer was generated but could not be saved", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(PostMessageResponse{Answer: answer, Messages: messages})
}

// Knowledge base handlers

type UploadResponse struct {
	ProcessedFiles int `json:"processed_files"`
	Chunks         int `json:"chunks"`
}

func (h *APIHandler) UploadDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var files []ingest.UploadedFile
	for _, header := range r.MultipartForm.File["files"] {
		file, err := header.Open()
		if err != nil {
			logrus.Warnf("Failed to open uploaded file %q: %v. Skipping.", header.Filename, err)
			continue
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			logrus.Warnf("Failed to read uploaded file %q: %v. Skipping.", header.Filename, err)
			continue
		}
		files = append(files, ingest.UploadedFile{Name: header.Filename, Data: data})
	}
	if len(files) == 0 {
		http.Error(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	username := usernameFrom(r)
	docs := ingest.Process(files)
	chunks := h.splitter.Split(docs, username)

	if err := h.knowledge.Add(r.Context(), chunks); err != nil {
		logrus.Errorf("Failed to add documents for %s: %v", username, err)
		http.Error(w, "Failed to add documents to the knowledge base", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(UploadResponse{ProcessedFiles: len(docs), Chunks: len(chunks)})
}

func (h *APIHandler) ListSourcesHandler(w http.ResponseWriter, r *http.Request) {
	sources := h.knowledge.ListSources(usernameFrom(r))
	if sources == nil {
		sources = []string{}
	}
	json.NewEncoder(w).Encode(map[string][]string{"sources": sources})
}

func (h *APIHandler) DeleteSourceHandler(w http.ResponseWriter, r *http.Request) {
	source, err := url.PathUnescape(chi.URLParam(r, "source"))
	if err != nil || source == "" {
		http.Error(w, "Invalid source name", http.StatusBadRequest)
		return
	}

	username := usernameFrom(r)
	if err := h.knowledge.DeleteSource(username, source); err != nil {
		logrus.Errorf("Failed to delete source %q for %s: %v", source, username, err)
		http.Error(w, "Failed to delete document", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func chatNameParam(r *http.Request) string {
	name, err := url.PathUnescape(chi.URLParam(r, "chatName"))
	if err != nil {
		return chi.URLParam(r, "chatName")
	}
	return name
}
