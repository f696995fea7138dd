package adapters

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/resilience"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// OpenAIConfig configures the analysis, question and embedding calls
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Dimensions     int
	Timeout        time.Duration
	MaxConnections int
}

// OpenAIClient talks to an OpenAI compatible API. Chat and embedding calls
// go through separate breaker transports so one failing endpoint does not
// trip the other.
type OpenAIClient struct {
	chat       *openai.Client
	embed      *openai.Client
	model      string
	embedModel string
	dimensions int

	chatTransport  *resilience.BreakerTransport
	embedTransport *resilience.BreakerTransport
}

// NewOpenAIClient creates a client. degradation may be nil.
func NewOpenAIClient(config OpenAIConfig, degradation *resilience.DegradationManager) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.NewConfigurationError("ai.api_key is required", nil)
	}
	if config.Model == "" {
		config.Model = openai.ChatModelGPT4oMini
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}

	transportCfg := resilience.DefaultTransportConfig()
	if config.MaxConnections > 0 {
		transportCfg.MaxActive = config.MaxConnections
	}
	transportCfg.Timeout = config.Timeout

	chatTransport := resilience.NewBreakerTransport(resilience.ServiceAIAnalysis, transportCfg,
		resilience.GetCircuitBreaker(resilience.ServiceAIAnalysis, aiBreakerConfig()), degradation)
	embedTransport := resilience.NewBreakerTransport(resilience.ServiceEmbeddings, transportCfg,
		resilience.GetCircuitBreaker(resilience.ServiceEmbeddings, aiBreakerConfig()), degradation)

	return &OpenAIClient{
		chat:           newOpenAI(config, chatTransport),
		embed:          newOpenAI(config, embedTransport),
		model:          config.Model,
		embedModel:     config.EmbeddingModel,
		dimensions:     config.Dimensions,
		chatTransport:  chatTransport,
		embedTransport: embedTransport,
	}, nil
}

func aiBreakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	}
}

func newOpenAI(config OpenAIConfig, transport *resilience.BreakerTransport) *openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(transport.Client(config.Timeout)),
		// retries belong to resilience.Guard
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &client
}

const analysisPrompt = `You review startup ideas. Reply with a JSON object with the keys
"improvements", "market_potential", "similar_ideas" and "pitch_points", each an
array of short strings, and "summary", a short paragraph. Write in %s.`

type analysisReply struct {
	Improvements    []string `json:"improvements"`
	MarketPotential []string `json:"market_potential"`
	SimilarIdeas    []string `json:"similar_ideas"`
	PitchPoints     []string `json:"pitch_points"`
	Summary         string   `json:"summary"`
}

// AnalyzeIdea asks the chat model for an analysis bundle
func (c *OpenAIClient) AnalyzeIdea(ctx context.Context, text, language string) (*types.Analysis, error) {
	content, err := c.completeJSON(ctx, fmt.Sprintf(analysisPrompt, languageName(language)), text, 0.7)
	if err != nil {
		return nil, err
	}

	var reply analysisReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, errors.NewUpstreamServiceError(resilience.ServiceAIAnalysis,
			fmt.Errorf("failed to decode analysis: %w", err))
	}

	raw := reply.Summary
	if raw == "" {
		raw = content
	}
	return &types.Analysis{
		Improvements:    reply.Improvements,
		MarketPotential: reply.MarketPotential,
		SimilarIdeas:    reply.SimilarIdeas,
		PitchPoints:     reply.PitchPoints,
		Raw:             raw,
	}, nil
}

const questionsPrompt = `You help a founder refine one building block of a startup idea.
The block is of type %q. Reply with a JSON object {"questions": [...]} holding
three to five short follow-up questions.`

// GenerateQuestions asks for follow-up questions about one module
func (c *OpenAIClient) GenerateQuestions(ctx context.Context, moduleType types.ModuleType, content string) ([]string, error) {
	reply, err := c.completeJSON(ctx, fmt.Sprintf(questionsPrompt, moduleType), content, 0.5)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return nil, errors.NewUpstreamServiceError(resilience.ServiceAIAnalysis,
			fmt.Errorf("failed to decode questions: %w", err))
	}
	questions := parsed.Questions[:0]
	for _, q := range parsed.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, errors.NewUpstreamServiceError(resilience.ServiceAIAnalysis,
			fmt.Errorf("model returned no questions"))
	}
	return questions, nil
}

func (c *OpenAIClient) completeJSON(ctx context.Context, system, user string, temperature float64) (string, error) {
	res, err := c.chat.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       c.model,
		Temperature: openai.Float(temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", classify(resilience.ServiceAIAnalysis, err)
	}
	if len(res.Choices) == 0 {
		return "", errors.NewUpstreamServiceError(resilience.ServiceAIAnalysis, fmt.Errorf("empty completion"))
	}
	return stripFences(res.Choices[0].Message.Content), nil
}

// Embed returns one vector per input text, in input order
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embedModel,
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	res, err := c.embed.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classify(resilience.ServiceEmbeddings, err)
	}
	if len(res.Data) != len(texts) {
		return nil, errors.NewUpstreamServiceError(resilience.ServiceEmbeddings,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(res.Data)))
	}

	data := res.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// GetStats returns transport statistics for both endpoints
func (c *OpenAIClient) GetStats() map[string]interface{} {
	return map[string]interface{}{
		resilience.ServiceAIAnalysis: c.chatTransport.GetStats(),
		resilience.ServiceEmbeddings: c.embedTransport.GetStats(),
	}
}

// Close drops idle connections
func (c *OpenAIClient) Close() error {
	_ = c.chatTransport.Close()
	return c.embedTransport.Close()
}

func classify(service string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError(service+" request timed out", err)
	}
	return errors.NewUpstreamServiceError(service, err)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func languageName(code string) string {
	switch strings.ToLower(code) {
	case "ko", "kr", "korean":
		return "Korean"
	default:
		return "English"
	}
}
