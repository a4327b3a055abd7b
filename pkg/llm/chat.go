package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/prompts"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
)

// DefaultPrompt grounds the model in the authorized context only.
const DefaultPrompt = `You are a helpful assistant. Use the following authorized context to answer the question.
If the context is empty or irrelevant, say "I don't have access to information about that."

Context:
{{.context}}

Question: {{.question}}
`

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	Template    string
	BaseURL     string // Ollama server URL or OpenAI-compatible endpoint
	APIKey      string
	Logger      *zap.Logger
}

// ChatEngine is an engine that uses an LLM to answer a question from a
// caller-authorized context string.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	prompt prompts.PromptTemplate
	logger *zap.Logger
}

var _ types.Generator = (*ChatEngine)(nil)

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "mistral" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "gpt-4o"
		}
		opts := []openai.Option{openai.WithModel(config.Model), openai.WithToken(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, errs.Errorf(errs.CodeConfigInvalid, "unknown chat provider %q", config.Provider)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeGenerateFailure, "failed to initialize LLM")
	}

	return NewChatEngine(model, config)
}

// NewChatEngine builds a ChatEngine around an existing model.
func NewChatEngine(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, errs.New(errs.CodeConfigInvalid, "temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, errs.New(errs.CodeConfigInvalid, "max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Template == "" {
		config.Template = DefaultPrompt
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	prompt := prompts.NewPromptTemplate(config.Template, []string{"context", "question"})
	if _, err := prompt.Format(map[string]any{"context": "", "question": ""}); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfigInvalid, "invalid prompt template")
	}

	return &ChatEngine{
		config: config,
		llm:    model,
		prompt: prompt,
		logger: config.Logger.Named("chat"),
	}, nil
}

// Answer generates a complete response. authorizedContext must already be
// limited to what the caller's role may see.
func (ce *ChatEngine) Answer(ctx context.Context, authorizedContext, question string) (string, error) {
	prompt, err := ce.render(authorizedContext, question)
	if err != nil {
		return "", err
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt, ce.callOptions()...)
	if err != nil {
		return "", errs.Wrap(err, errs.CodeGenerateFailure, "chat error", errs.Field("model", ce.config.Model))
	}
	return response, nil
}

// AnswerStream generates a response as a stream of chunks. The chunk channel
// is closed when generation ends; at most one error is sent on the error channel.
func (ce *ChatEngine) AnswerStream(ctx context.Context, authorizedContext, question string) (<-chan string, <-chan error) {
	resultChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(resultChan)
		defer close(errChan)

		prompt, err := ce.render(authorizedContext, question)
		if err != nil {
			errChan <- err
			return
		}

		streamed := false
		stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			select {
			case resultChan <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		response, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt, append(ce.callOptions(), stream)...)
		if err != nil {
			errChan <- errs.Wrap(err, errs.CodeGenerateFailure, "chat stream error", errs.Field("model", ce.config.Model))
			return
		}

		// Providers without streaming support return the whole answer at once.
		if !streamed && response != "" {
			select {
			case resultChan <- response:
			case <-ctx.Done():
				errChan <- ctx.Err()
			}
		}
	}()

	return resultChan, errChan
}

func (ce *ChatEngine) render(authorizedContext, question string) (string, error) {
	prompt, err := ce.prompt.Format(map[string]any{
		"context":  authorizedContext,
		"question": question,
	})
	if err != nil {
		return "", errs.Wrap(err, errs.CodeGenerateFailure, "failed to render prompt")
	}
	return prompt, nil
}

func (ce *ChatEngine) callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}
