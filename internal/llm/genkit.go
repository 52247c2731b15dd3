package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// GenkitConfig selects a genkit provider plugin.
type GenkitConfig struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the plugin's default endpoint.
	BaseURL string
}

// GenkitCompleter generates through a genkit plugin for google, anthropic
// or openai. Genkit yields one candidate per call.
type GenkitCompleter struct {
	g         *genkit.Genkit
	provider  string
	modelName string
}

var defaultModels = map[string]string{
	"google":    "gemini-2.5-flash",
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o",
}

// NewGenkitCompleter initializes genkit with the plugin for cfg.Provider.
func NewGenkitCompleter(ctx context.Context, cfg GenkitConfig) (*GenkitCompleter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", provider)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModels[provider]
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for provider %q", provider)
	}

	var g *genkit.Genkit
	switch provider {
	case "anthropic":
		g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
		}))
	case "openai":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai",
			APIKey:   apiKey,
			BaseURL:  cfg.BaseURL,
		}))
	case "google":
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithDefaultModel("googleai/"+model),
		)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}

	name := modelNameForProvider(provider, model)
	slog.Info("genkit completer initialized", "provider", provider, "model", name)
	return &GenkitCompleter{g: g, provider: provider, modelName: name}, nil
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	default:
		return "googleai/" + model
	}
}

func (c *GenkitCompleter) Name() string { return c.modelName }

func (c *GenkitCompleter) Complete(ctx context.Context, prompt string) (*Completion, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return nil, fmt.Errorf("genkit generate: %w", err)
	}
	comp := &Completion{Model: c.modelName}
	if resp == nil || resp.Message == nil {
		return comp, nil
	}
	if raw, err := json.Marshal(resp.Message); err == nil {
		comp.Raw = string(raw)
	}
	comp.Choices = []Choice{{Text: resp.Text(), FinishReason: string(resp.FinishReason)}}
	return comp, nil
}
