package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	transcribePrompt = `You are an expert transcriptionist specializing in transcribing audio messages.

Transcribe the following audio message. Reply with the transcription only.`

	summarizePrompt = `You are an AI assistant specializing in summarizing audio messages.

Please provide a concise and informative summary of the audio content. Make sure to identify the key topics discussed. Reply with the summary only.`
)

var (
	ErrEmptyCompletion    = errors.New("model returned no text")
	ErrModelNotConfigured = errors.New("model not configured")
)

// Model is the hosted speech model behind the flows.
type Model interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
	Summarize(ctx context.Context, audio Audio) (string, error)
}

// NoModel fails every call. It stands in when no API key is configured so
// the rest of the service still starts.
type NoModel struct{}

func (NoModel) Transcribe(context.Context, Audio) (string, error) { return "", ErrModelNotConfigured }
func (NoModel) Summarize(context.Context, Audio) (string, error)  { return "", ErrModelNotConfigured }

// GeminiModel runs both prompts against a Gemini model.
type GeminiModel struct {
	client *genai.Client
	model  string
}

func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	const op = "flows.NewGeminiModel"

	if apiKey == "" {
		return nil, fmt.Errorf("%s: missing api key", op)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &GeminiModel{client: client, model: model}, nil
}

func (g *GeminiModel) Transcribe(ctx context.Context, audio Audio) (string, error) {
	return g.generate(ctx, "flows.GeminiModel.Transcribe", transcribePrompt, audio)
}

func (g *GeminiModel) Summarize(ctx context.Context, audio Audio) (string, error) {
	return g.generate(ctx, "flows.GeminiModel.Summarize", summarizePrompt, audio)
}

func (g *GeminiModel) generate(ctx context.Context, op, prompt string, audio Audio) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(audio.Data, audio.MIMEType),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyCompletion)
	}
	return text, nil
}
