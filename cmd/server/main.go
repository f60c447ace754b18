package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docuchat/docuchat/internal/api"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/core"
	"github.com/docuchat/docuchat/internal/ingest"
	"github.com/docuchat/docuchat/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	config.LoadConfig()
	config.SetupLogging()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service (embeddings + generation)
	llmService, err := core.NewLLMService(context.Background())
	if err != nil {
		logrus.Fatalf("Failed to initialize LLM service: %v", err)
	}
	defer llmService.Close()

	// Core services
	knowledgeService := core.NewKnowledgeService(dbStore, llmService)
	conversationService := core.NewConversationService(dbStore)
	ragService := core.NewRAGService(knowledgeService, llmService)
	splitter := ingest.NewSplitter(config.AppConfig.ChunkSize, config.AppConfig.ChunkOverlap)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(dbStore, conversationService, knowledgeService, ragService, splitter)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second, // Uploads can be large
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logrus.Infof("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exiting gracefully")
}
