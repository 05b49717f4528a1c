package anthropic

import (
	"log/slog"

	"github.com/genesis-labs/convo-gateway/pkg/config"
	"github.com/genesis-labs/convo-gateway/pkg/llm"
)

// Factory handles creation of Anthropic Clients from a ProviderGroupConfig.
type Factory struct{}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	apiKey := ""
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}

	for _, model := range cfg.Models {
		client, err := NewClient(apiKey, model, cfg.Options)
		if err != nil {
			slog.Error("Failed to create Anthropic client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("anthropic", &Factory{})
}
