package llm_test

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel is an llms.Model that records the rendered prompt and replays a
// canned answer, streaming it in chunks when asked to.
type fakeModel struct {
	mu       sync.Mutex
	response string
	chunks   []string
	err      error
	prompts  []string
	options  llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	f.mu.Lock()
	for _, m := range messages {
		for _, p := range m.Parts {
			if text, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	f.options = opts
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if opts.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeModel) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// fakeEmbedder is a langchaingo embeddings.Embedder returning fixed-length
// vectors derived from the input text length.
type fakeEmbedder struct {
	dim   int
	err   error
	short bool
	drop  bool
}

func (f *fakeEmbedder) vector(text string) []float32 {
	n := f.dim
	if f.short {
		n--
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(len(text)%7 + i + 1)
	}
	return v
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, f.vector(t))
	}
	if f.drop && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(text), nil
}
