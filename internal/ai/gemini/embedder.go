package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultEmbeddingModel = "gemini-embedding-001"
	// Inputs are cut to this many runes before embedding.
	maxEmbeddingRunes = 10000
)

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder produces résumé embeddings with the Gemini embedding models.
type Embedder struct {
	models     contentEmbedder
	model      string
	dimensions int32
}

// Embedder returns an embedder sharing the generator's client.
func (g *Generator) Embedder(model string, dimensions int) (*Embedder, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("gemini generator is not initialized")
	}
	return NewEmbedder(g.client.Models, model, dimensions), nil
}

func NewEmbedder(models contentEmbedder, model string, dimensions int) *Embedder {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{models: models, model: model, dimensions: int32(dimensions)}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text for embedding must not be empty")
	}
	if runes := []rune(text); len(runes) > maxEmbeddingRunes {
		text = string(runes[:maxEmbeddingRunes])
	}

	var config *genai.EmbedContentConfig
	if e.dimensions > 0 {
		config = &genai.EmbedContentConfig{
			TaskType:             "RETRIEVAL_DOCUMENT",
			OutputDimensionality: genai.Ptr(e.dimensions),
		}
	}

	resp, err := e.models.EmbedContent(ctx, e.model, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, config)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("no embeddings returned")
	}

	values := resp.Embeddings[0].Values
	if len(values) == 0 {
		return nil, errors.New("embedding vector is empty")
	}
	if e.dimensions > 0 && int32(len(values)) != e.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(values), e.dimensions)
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("invalid embedding value at index %d: %v", i, v)
		}
	}

	return values, nil
}
