package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/store"
	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	chatSystemInstruction = "You are a helpful assistant. Answer questions using the provided document excerpts. " +
		"If the answer is not found in the provided context, clearly state that you don't have the information. " +
		"Keep your answers concise and directly related to the user's question and provided context. " +
		"Do not make up information. If the context is insufficient, say so."
)

// Embedder turns text into a vector. Satisfied by LLMService.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer from grounding context, conversation history
// and the current question. Satisfied by LLMService.
type Generator interface {
	Generate(ctx context.Context, groundingContext string, history []store.Message, question string) (string, error)
}

type LLMService struct {
	client *genai.Client
}

func NewLLMService(ctx context.Context) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			logrus.Errorf("Error closing GenAI client: %v", err)
		}
	}
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Generate replays the conversation history verbatim into a chat session and
// sends the question, framed by the retrieved context, as the final user turn.
func (s *LLMService) Generate(ctx context.Context, groundingContext string, history []store.Message, question string) (string, error) {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	chatSession := model.StartChat()
	chatSession.History = historyToContents(history)

	var finalUserContent string
	if groundingContext != "" {
		finalUserContent = fmt.Sprintf(
			"Based on our previous conversation and the following potentially relevant excerpts from my documents:\n\n--- CONTEXT START ---\n%s\n--- CONTEXT END ---\n\nNow, please answer my question: %s",
			groundingContext, question)
	} else {
		finalUserContent = fmt.Sprintf(
			"Based on our previous conversation (if any), and noting that no matching documents were found for my current question, please answer: %s",
			question)
	}

	resp, err := chatSession.SendMessage(ctx, genai.Text(finalUserContent))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned an empty response")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			logrus.Warnf("Gemini response part was not text: %T", part)
		}
	}

	if responseText.Len() == 0 {
		return "", fmt.Errorf("gemini returned a non-text response")
	}
	return responseText.String(), nil
}

// historyToContents maps stored messages onto Gemini chat roles.
func historyToContents(history []store.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range history {
		role := "user"
		if msg.Type == store.RoleAI {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}
