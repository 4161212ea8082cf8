package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bidwise/matchd/internal/domain/model"
)

const defaultEmbeddingModel = "gemini-embedding-001"

// GeminiEmbedder produces embeddings through the Google GenAI API.
type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

// NewGeminiEmbedder creates an embedder backed by the Gemini API.
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if modelName = strings.TrimSpace(modelName); modelName == "" {
		modelName = defaultEmbeddingModel
	}

	return &GeminiEmbedder{client: client, modelName: modelName}, nil
}

// Embed returns the embedding vector for text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text must not be empty", model.ErrValidation)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.modelName, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini api returned empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}

// Model returns the configured embedding model name.
func (g *GeminiEmbedder) Model() string {
	if g == nil {
		return ""
	}
	return g.modelName
}
