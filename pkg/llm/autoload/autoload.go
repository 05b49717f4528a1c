// Package autoload's sole purpose is its side effects: importing it
// registers every known LLM provider factory with pkg/llm's registry via
// each provider package's init().
package autoload

import (
	_ "github.com/genesis-labs/convo-gateway/pkg/llm/anthropic"
	_ "github.com/genesis-labs/convo-gateway/pkg/llm/gemini"
	_ "github.com/genesis-labs/convo-gateway/pkg/llm/ollama"
	_ "github.com/genesis-labs/convo-gateway/pkg/llm/openailm"
)
