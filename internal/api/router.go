package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)

			// Chat routes
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Get("/chats/{chatName}", apiHandler.GetChatHandler)
			r.Patch("/chats/{chatName}", apiHandler.RenameChatHandler)
			r.Delete("/chats/{chatName}", apiHandler.DeleteChatHandler)
			r.Post("/chats/{chatName}/messages", apiHandler.PostMessageHandler)

			// Knowledge base routes
			r.Post("/documents", apiHandler.UploadDocumentsHandler)
			r.Get("/documents", apiHandler.ListSourcesHandler)
			r.Delete("/documents/{source}", apiHandler.DeleteSourceHandler)
		})
	})

	return r
}
