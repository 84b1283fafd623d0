package registry

import "github.com/LlamaEdge/llama-api-server/prompt"

// GgmlMetadata configures a llama.cpp-family graph. The identification
// fields stay server-side; everything with a JSON tag round-trips to
// the runtime as the blob on tensor #1.
type GgmlMetadata struct {
	ModelName      string              `json:"-"`
	ModelAlias     string              `json:"-"`
	PromptTemplate prompt.TemplateType `json:"-"`

	LogEnable bool `json:"enable-log"`
	DebugLog  bool `json:"enable-debug-log"`

	// Embeddings switches the graph between generation and embedding
	// extraction without reloading weights.
	Embeddings bool `json:"embedding"`

	NPredict      int64   `json:"n-predict"`
	ReversePrompt string  `json:"reverse-prompt,omitempty"`
	MMProj        string  `json:"mmproj,omitempty"`
	NGPULayers    uint64  `json:"n-gpu-layers"`
	MainGPU       *uint64 `json:"main-gpu,omitempty"`
	TensorSplit   string  `json:"tensor-split,omitempty"`
	UseMmap       *bool   `json:"use-mmap,omitempty"`
	CtxSize       uint64  `json:"ctx-size"`
	BatchSize     uint64  `json:"batch-size"`

	Temperature      float64 `json:"temp"`
	TopP             float64 `json:"top-p"`
	RepeatPenalty    float64 `json:"repeat-penalty"`
	PresencePenalty  float64 `json:"presence-penalty"`
	FrequencyPenalty float64 `json:"frequency-penalty"`

	Grammar    string  `json:"grammar"`
	JSONSchema *string `json:"json_schema,omitempty"`
}

// DefaultGgmlMetadata returns the sampling and sizing defaults applied
// when a model's configuration leaves a field unset.
func DefaultGgmlMetadata() GgmlMetadata {
	return GgmlMetadata{
		PromptTemplate: prompt.TemplateNull,
		NPredict:       1024,
		NGPULayers:     100,
		CtxSize:        512,
		BatchSize:      512,
		Temperature:    1.0,
		TopP:           1.0,
		RepeatPenalty:  1.1,
	}
}

// WhisperMetadata configures the audio graph. All fields ship to the
// runtime; per-request values are overlaid and restored afterwards.
type WhisperMetadata struct {
	ModelName string `json:"-"`

	Translate      bool    `json:"translate"`
	Language       string  `json:"language"`
	DetectLanguage bool    `json:"detect-language"`
	OffsetTime     uint64  `json:"offset-time"`
	Duration       uint64  `json:"duration"`
	MaxContext     int64   `json:"max-context"`
	MaxLen         uint64  `json:"max-len"`
	SplitOnWord    bool    `json:"split-on-word"`
	Temperature    float64 `json:"temperature"`
	Prompt         string  `json:"prompt,omitempty"`
}

func DefaultWhisperMetadata() WhisperMetadata {
	return WhisperMetadata{
		Language:   "en",
		MaxContext: -1,
	}
}

// SDMetadata configures a stable-diffusion context. OutputPath points
// at the png the runtime writes; ImagePath is set only on the
// image-to-image context.
type SDMetadata struct {
	ModelName string `json:"-"`

	NegativePrompt string  `json:"negative_prompt"`
	CfgScale       float64 `json:"cfg_scale"`
	SampleSteps    int     `json:"sample_steps"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           int64   `json:"seed"`
	OutputPath     string  `json:"output"`
	ImagePath      string  `json:"image,omitempty"`
	Strength       float64 `json:"strength,omitempty"`
}

func DefaultSDMetadata() SDMetadata {
	return SDMetadata{
		CfgScale:    7.0,
		SampleSteps: 20,
		Width:       512,
		Height:      512,
		Seed:        -1,
		Strength:    0.75,
	}
}

// PiperMetadata configures the text-to-speech graph.
type PiperMetadata struct {
	ModelName string `json:"-"`

	SpeakerID int     `json:"speaker,omitempty"`
	NoiseW    float64 `json:"noise_w,omitempty"`
}
