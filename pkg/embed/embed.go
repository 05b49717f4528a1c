// Package embed maps text to fixed-dimension float vectors for the vector
// store, grounded on pkg/llm/openailm/client.go's construction style for the
// official OpenAI Go SDK client, generalized from chat completion to the
// embeddings endpoint.
package embed

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Embedder maps text to a fixed-dimension vector. Injectable so the memory
// engine and vector store can be tested without network calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Client embeds text via the OpenAI embeddings endpoint.
type Client struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewClient builds an embeddings Client. dimension must match the chosen
// model's native output width. It is reported through Dimension; returned
// vectors are not checked against it.
func NewClient(apiKey, baseURL, model string, dimension int) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embed: api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{client: &client, model: model, dimension: dimension}, nil
}

// Dimension reports the fixed output width of this embedder.
func (c *Client) Dimension() int {
	return c.dimension
}

// Embed computes the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}

	embedding := resp.Data[0].Embedding
	out := make([]float32, len(embedding))
	for i, v := range embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Fake is a deterministic, network-free Embedder for tests: it hashes text
// into a vector of the configured dimension.
type Fake struct {
	dimension int
	// FailErr, when non-nil, is returned by Embed instead of a vector. Lets
	// tests exercise retrieval-backend-failure paths deterministically.
	FailErr error
}

// NewFake builds a Fake embedder of the given dimension.
func NewFake(dimension int) *Fake {
	return &Fake{dimension: dimension}
}

func (f *Fake) Dimension() int {
	return f.dimension
}

func (f *Fake) Embed(_ context.Context, text string) ([]float32, error) {
	if f.FailErr != nil {
		return nil, f.FailErr
	}
	out := make([]float32, f.dimension)
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
		out[i%f.dimension] += float32(h%1000) / 1000.0
	}
	return out, nil
}
