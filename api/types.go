package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FinishReason mirrors the closed set of OpenAI finish reasons.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonFunctionCall  FinishReason = "function_call"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// Stop accepts either a single string or a list of strings on the wire.
type Stop []string

func (s *Stop) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = Stop{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("invalid type for 'stop': expected string or list of strings")
	}
	*s = many
	return nil
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type ResponseFormat struct {
	Type       string      `json:"type"`
	JsonSchema *JsonSchema `json:"json_schema,omitempty"`
}

type JsonSchema struct {
	Schema json.RawMessage `json:"schema"`
}

type ChatCompletionRequest struct {
	Model            string             `json:"model,omitempty"`
	Messages         Messages           `json:"messages"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	N                *int               `json:"n,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
	StreamOptions    *StreamOptions     `json:"stream_options,omitempty"`
	Stop             Stop               `json:"stop,omitempty"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	User             string             `json:"user,omitempty"`
	Tools            []Tool             `json:"tools,omitempty"`
	ToolChoice       any                `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat    `json:"response_format,omitempty"`
}

// Validate clamps out-of-range fields where OpenAI clamps and rejects
// where OpenAI rejects.
func (r *ChatCompletionRequest) Validate() error {
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", *r.Temperature)
	}

	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1, got %v", *r.TopP)
	}

	for _, p := range []*float64{r.PresencePenalty, r.FrequencyPenalty} {
		if p != nil && (*p < -2 || *p > 2) {
			return fmt.Errorf("penalty must be between -2.0 and 2.0, got %v", *p)
		}
	}

	if len(r.Stop) > 4 {
		return fmt.Errorf("up to 4 stop sequences are supported, got %d", len(r.Stop))
	}

	for token, bias := range r.LogitBias {
		if bias < -100 || bias > 100 {
			return fmt.Errorf("logit_bias for %q must be between -100 and 100, got %v", token, bias)
		}
	}

	for _, tool := range r.Tools {
		if tool.Type != "function" {
			return fmt.Errorf("unknown tool type %q", tool.Type)
		}
	}

	if r.N != nil && *r.N < 1 {
		n := 1
		r.N = &n
	}

	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		tokens := 16
		r.MaxTokens = &tokens
	}

	return nil
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatCompletionChoice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason *FinishReason `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ChatCompletionObject struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        ChoiceMessage `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason"`
}

type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint string        `json:"system_fingerprint"`
	Choices           []ChunkChoice `json:"choices"`
	Usage             *Usage        `json:"usage,omitempty"`
}

// Prompt accepts either a single string or a list of strings.
type Prompt []string

func (p *Prompt) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*p = Prompt{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("invalid type for 'prompt': expected string or list of strings")
	}
	*p = many
	return nil
}

type CompletionRequest struct {
	Model            string         `json:"model,omitempty"`
	Prompt           Prompt         `json:"prompt"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	N                *int           `json:"n,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	StreamOptions    *StreamOptions `json:"stream_options,omitempty"`
	Stop             Stop           `json:"stop,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	Echo             bool           `json:"echo,omitempty"`
	Suffix           string         `json:"suffix,omitempty"`
	User             string         `json:"user,omitempty"`
}

type CompletionChoice struct {
	Index        int           `json:"index"`
	Text         string        `json:"text"`
	FinishReason *FinishReason `json:"finish_reason"`
}

type CompletionObject struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// EmbeddingInput accepts the four OpenAI input shapes: a string, a
// list of strings, a list of token ids, and a list of token id lists.
type EmbeddingInput struct {
	Text        string
	Texts       []string
	Tokens      []int
	TokenArrays [][]int
}

func (in *EmbeddingInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		in.Text = s
		return nil
	}

	var texts []string
	if err := json.Unmarshal(b, &texts); err == nil {
		in.Texts = texts
		return nil
	}

	var tokens []int
	if err := json.Unmarshal(b, &tokens); err == nil {
		in.Tokens = tokens
		return nil
	}

	var arrays [][]int
	if err := json.Unmarshal(b, &arrays); err == nil {
		in.TokenArrays = arrays
		return nil
	}

	return errors.New("invalid type for 'input'")
}

func (in EmbeddingInput) MarshalJSON() ([]byte, error) {
	switch {
	case in.Texts != nil:
		return json.Marshal(in.Texts)
	case in.Tokens != nil:
		return json.Marshal(in.Tokens)
	case in.TokenArrays != nil:
		return json.Marshal(in.TokenArrays)
	default:
		return json.Marshal(in.Text)
	}
}

type EmbeddingRequest struct {
	Model          string         `json:"model"`
	Input          EmbeddingInput `json:"input"`
	User           string         `json:"user,omitempty"`
	EncodingFormat string         `json:"encoding_format,omitempty"`

	// Vector database coordinates used by the RAG ingest path.
	VdbServerURL      string `json:"vdb_server_url,omitempty"`
	VdbCollectionName string `json:"vdb_collection_name,omitempty"`
	VdbAPIKey         string `json:"vdb_api_key,omitempty"`
}

// RetrieveRequest asks for the context chunks closest to a query.
type RetrieveRequest struct {
	Query string `json:"query"`
	Model string `json:"model,omitempty"`

	VdbServerURL      string `json:"vdb_server_url"`
	VdbCollectionName string `json:"vdb_collection_name"`
	VdbAPIKey         string `json:"vdb_api_key,omitempty"`

	Limit          uint64   `json:"limit,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
}

type EmbeddingObject struct {
	Index     int    `json:"index"`
	Object    string `json:"object"`
	Embedding any    `json:"embedding"` // []float64, or string when encoding_format=base64
}

type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type EmbeddingResponse struct {
	Object string            `json:"object"`
	Data   []EmbeddingObject `json:"data"`
	Model  string            `json:"model"`
	Usage  EmbeddingUsage    `json:"usage"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
