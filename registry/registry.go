// Package registry owns the process-wide set of loaded graphs and the
// running mode that gates which API families are served. It is
// initialized exactly once at startup and read-only afterwards, except
// for the per-graph interior locks.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/LlamaEdge/llama-api-server/runtime"
)

// RunningMode names which API families the server accepts.
type RunningMode string

const (
	ModeChat          RunningMode = "chat"
	ModeEmbeddings    RunningMode = "embeddings"
	ModeChatEmbedding RunningMode = "chat-embedding"
	ModeRag           RunningMode = "rag"
)

// AllowsChat reports whether chat and completion requests are served.
func (m RunningMode) AllowsChat() bool {
	return m == ModeChat || m == ModeChatEmbedding || m == ModeRag
}

// AllowsEmbeddings reports whether embedding requests are served.
func (m RunningMode) AllowsEmbeddings() bool {
	return m == ModeEmbeddings || m == ModeChatEmbedding || m == ModeRag
}

// AllowsRag reports whether RAG ingest and retrieval are served.
func (m RunningMode) AllowsRag() bool { return m == ModeRag }

var (
	ErrAlreadyInitialized = errors.New("registry already initialized")
	ErrNotInitialized     = errors.New("registry not initialized")
	ErrNoModels           = errors.New("no models configured")
	ErrUnknownModel       = errors.New("unknown model")
	ErrModeMismatch       = errors.New("operation not allowed in current running mode")
)

// Registry is the process-wide graph table. Construct with New, then
// call exactly one of Init or InitRag; audio, speech and image contexts
// attach afterwards.
type Registry struct {
	builder runtime.GraphBuilder

	mu          sync.Mutex
	initialized bool

	mode RunningMode

	chat      map[string]*Graph[GgmlMetadata]
	chatNames []string

	embedding      map[string]*Graph[GgmlMetadata]
	embeddingNames []string

	audio        *Graph[WhisperMetadata]
	speech       *Graph[PiperMetadata]
	textToImage  *Graph[SDMetadata]
	imageToImage *Graph[SDMetadata]
}

func New(builder runtime.GraphBuilder) *Registry {
	return &Registry{
		builder:   builder,
		chat:      make(map[string]*Graph[GgmlMetadata]),
		embedding: make(map[string]*Graph[GgmlMetadata]),
	}
}

// Init loads the configured chat and embedding models. At least one of
// the two lists must be non-empty; the running mode follows from which
// are present.
func (r *Registry) Init(chat, embed []GgmlMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return ErrAlreadyInitialized
	}
	if len(chat) == 0 && len(embed) == 0 {
		return ErrNoModels
	}

	if err := r.load(chat, embed); err != nil {
		return err
	}

	switch {
	case len(chat) > 0 && len(embed) > 0:
		r.mode = ModeChatEmbedding
	case len(chat) > 0:
		r.mode = ModeChat
	default:
		r.mode = ModeEmbeddings
	}

	r.initialized = true
	return nil
}

// InitRag loads chat and embedding models for retrieval-augmented
// serving. Both lists are required.
func (r *Registry) InitRag(chat, embed []GgmlMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return ErrAlreadyInitialized
	}
	if len(chat) == 0 || len(embed) == 0 {
		return fmt.Errorf("%w: rag mode needs both a chat and an embedding model", ErrNoModels)
	}

	if err := r.load(chat, embed); err != nil {
		return err
	}

	r.mode = ModeRag
	r.initialized = true
	return nil
}

func (r *Registry) load(chat, embed []GgmlMetadata) error {
	for _, meta := range chat {
		rt, err := r.builder.BuildFromCache(runtime.EngineGgml, runtime.DeviceAuto, nil, meta.ModelAlias)
		if err != nil {
			return fmt.Errorf("loading chat model %q: %w", meta.ModelName, err)
		}
		g, err := NewGraph(meta.ModelName, meta, rt)
		if err != nil {
			return err
		}
		r.chat[meta.ModelName] = g
		r.chatNames = append(r.chatNames, meta.ModelName)
	}

	for _, meta := range embed {
		meta.Embeddings = true
		rt, err := r.builder.BuildFromCache(runtime.EngineGgml, runtime.DeviceAuto, nil, meta.ModelAlias)
		if err != nil {
			return fmt.Errorf("loading embedding model %q: %w", meta.ModelName, err)
		}
		g, err := NewGraph(meta.ModelName, meta, rt)
		if err != nil {
			return err
		}
		r.embedding[meta.ModelName] = g
		r.embeddingNames = append(r.embeddingNames, meta.ModelName)
	}

	return nil
}

// InitAudio builds the whisper graph from the given model file.
func (r *Registry) InitAudio(meta WhisperMetadata, modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.audio != nil {
		return fmt.Errorf("%w: audio graph", ErrAlreadyInitialized)
	}

	rt, err := r.builder.BuildFromFiles(runtime.EngineWhisper, runtime.DeviceAuto, nil, modelPath)
	if err != nil {
		return fmt.Errorf("loading audio model %q: %w", modelPath, err)
	}

	g, err := NewGraph(meta.ModelName, meta, rt)
	if err != nil {
		return err
	}
	r.audio = g
	return nil
}

// InitSpeech builds the text-to-speech graph from the given model file.
func (r *Registry) InitSpeech(meta PiperMetadata, modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.speech != nil {
		return fmt.Errorf("%w: speech graph", ErrAlreadyInitialized)
	}

	rt, err := r.builder.BuildFromFiles(runtime.EngineGgml, runtime.DeviceAuto, nil, modelPath)
	if err != nil {
		return fmt.Errorf("loading speech model %q: %w", modelPath, err)
	}

	g, err := NewGraph(meta.ModelName, meta, rt)
	if err != nil {
		return err
	}
	r.speech = g
	return nil
}

// InitStableDiffusion builds the text-to-image and image-to-image
// contexts from one set of weights.
func (r *Registry) InitStableDiffusion(ggufPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.textToImage != nil || r.imageToImage != nil {
		return fmt.Errorf("%w: stable diffusion contexts", ErrAlreadyInitialized)
	}

	t2i, err := r.builder.BuildFromFiles(runtime.EngineGgml, runtime.DeviceAuto, nil, ggufPath)
	if err != nil {
		return fmt.Errorf("loading text-to-image context %q: %w", ggufPath, err)
	}
	i2i, err := r.builder.BuildFromFiles(runtime.EngineGgml, runtime.DeviceAuto, nil, ggufPath)
	if err != nil {
		return fmt.Errorf("loading image-to-image context %q: %w", ggufPath, err)
	}

	gt, err := NewGraph("text-to-image", DefaultSDMetadata(), t2i)
	if err != nil {
		return err
	}
	gi, err := NewGraph("image-to-image", DefaultSDMetadata(), i2i)
	if err != nil {
		return err
	}

	r.textToImage = gt
	r.imageToImage = gi
	return nil
}

// Mode returns the running mode set at init.
func (r *Registry) Mode() RunningMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// CheckChat validates that chat and completion requests are admissible.
func (r *Registry) CheckChat() error {
	if mode := r.Mode(); !mode.AllowsChat() {
		return fmt.Errorf("%w: chat requests need chat, chat-embedding or rag mode, server is in %q mode", ErrModeMismatch, mode)
	}
	return nil
}

// CheckEmbeddings validates that embedding requests are admissible.
func (r *Registry) CheckEmbeddings() error {
	if mode := r.Mode(); !mode.AllowsEmbeddings() {
		return fmt.Errorf("%w: embedding requests need embeddings, chat-embedding or rag mode, server is in %q mode", ErrModeMismatch, mode)
	}
	return nil
}

// CheckRag validates that RAG ingest and retrieval are admissible.
func (r *Registry) CheckRag() error {
	if mode := r.Mode(); !mode.AllowsRag() {
		return fmt.Errorf("%w: rag requests need rag mode, server is in %q mode", ErrModeMismatch, mode)
	}
	return nil
}

// ChatGraph resolves a chat graph by model name. An empty or unknown
// name falls back to the first registered chat model, matching the
// permissive model field handling of the chat API.
func (r *Registry) ChatGraph(name string) (*Graph[GgmlMetadata], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if g, ok := r.chat[name]; ok {
		return g, nil
	}
	if len(r.chatNames) == 0 {
		return nil, fmt.Errorf("%w: no chat models loaded", ErrUnknownModel)
	}
	return r.chat[r.chatNames[0]], nil
}

// EmbeddingGraph resolves an embedding graph by model name with the
// same fallback as ChatGraph.
func (r *Registry) EmbeddingGraph(name string) (*Graph[GgmlMetadata], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if g, ok := r.embedding[name]; ok {
		return g, nil
	}
	if len(r.embeddingNames) == 0 {
		return nil, fmt.Errorf("%w: no embedding models loaded", ErrUnknownModel)
	}
	return r.embedding[r.embeddingNames[0]], nil
}

// AudioGraph returns the whisper graph, if one was loaded.
func (r *Registry) AudioGraph() (*Graph[WhisperMetadata], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.audio == nil {
		return nil, fmt.Errorf("%w: no audio model loaded", ErrUnknownModel)
	}
	return r.audio, nil
}

// SpeechGraph returns the text-to-speech graph, if one was loaded.
func (r *Registry) SpeechGraph() (*Graph[PiperMetadata], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.speech == nil {
		return nil, fmt.Errorf("%w: no speech model loaded", ErrUnknownModel)
	}
	return r.speech, nil
}

// TextToImage returns the text-to-image context, if one was loaded.
func (r *Registry) TextToImage() (*Graph[SDMetadata], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.textToImage == nil {
		return nil, fmt.Errorf("%w: no image model loaded", ErrUnknownModel)
	}
	return r.textToImage, nil
}

// ImageToImage returns the image-to-image context, if one was loaded.
func (r *Registry) ImageToImage() (*Graph[SDMetadata], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.imageToImage == nil {
		return nil, fmt.Errorf("%w: no image model loaded", ErrUnknownModel)
	}
	return r.imageToImage, nil
}

// ChatModels lists the chat model names in registration order.
func (r *Registry) ChatModels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chatNames...)
}

// EmbeddingModels lists the embedding model names in registration
// order.
func (r *Registry) EmbeddingModels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.embeddingNames...)
}
