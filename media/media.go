// Package media adapts audio and image requests onto their dedicated
// graphs: whisper for transcription and translation, piper for speech,
// and the stable-diffusion contexts for image generation and edits.
// Each request overlays only the metadata fields it changes and
// restores them on every exit path.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/runtime"
)

type Adapter struct {
	reg *registry.Registry
	log *slog.Logger

	// ArchiveDir is where generated images land, served back as URLs.
	ArchiveDir string
}

func New(reg *registry.Registry, log *slog.Logger) *Adapter {
	return &Adapter{reg: reg, log: log, ArchiveDir: "archives"}
}

// Transcribe runs speech-to-text over the audio graph.
func (a *Adapter) Transcribe(ctx context.Context, req *api.TranscriptionRequest, wave []byte) (*api.TranscriptionObject, error) {
	return a.runWhisper(ctx, wave, func(m *registry.WhisperMetadata) {
		m.Translate = false
		applyAudioFields(m, req.Language, req.Prompt, req.Temperature)
		m.DetectLanguage = req.DetectLanguage
		if req.OffsetTime > 0 {
			m.OffsetTime = uint64(req.OffsetTime)
		}
		if req.Duration > 0 {
			m.Duration = uint64(req.Duration)
		}
		if req.MaxContext != 0 {
			m.MaxContext = int64(req.MaxContext)
		}
		if req.MaxLen > 0 {
			m.MaxLen = uint64(req.MaxLen)
		}
		m.SplitOnWord = req.SplitOnWord
	})
}

// Translate runs speech-to-English-text over the audio graph.
func (a *Adapter) Translate(ctx context.Context, req *api.TranslationRequest, wave []byte) (*api.TranscriptionObject, error) {
	return a.runWhisper(ctx, wave, func(m *registry.WhisperMetadata) {
		m.Translate = true
		applyAudioFields(m, req.Language, req.Prompt, req.Temperature)
	})
}

func applyAudioFields(m *registry.WhisperMetadata, language, prompt string, temperature *float64) {
	if language != "" {
		m.Language = language
	}
	if prompt != "" {
		m.Prompt = prompt
	}
	if temperature != nil {
		m.Temperature = *temperature
	}
}

func (a *Adapter) runWhisper(ctx context.Context, wave []byte, overlay func(*registry.WhisperMetadata)) (*api.TranscriptionObject, error) {
	graph, err := a.reg.AudioGraph()
	if err != nil {
		return nil, err
	}

	if err := graph.Acquire(ctx); err != nil {
		return nil, err
	}
	defer graph.Release()

	restore, err := graph.Override(overlay)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := restore(); err != nil {
			a.log.Error("restoring audio metadata", "error", err)
		}
	}()

	if err := graph.SetInput(0, runtime.TensorTypeU8, []int{1}, wave); err != nil {
		return nil, err
	}
	if err := graph.Compute(); err != nil {
		return nil, err
	}

	text, err := graph.OutputText(0)
	if err != nil {
		return nil, err
	}
	return &api.TranscriptionObject{Text: text}, nil
}

// Speech synthesizes audio for the input text and returns the raw wav
// bytes.
func (a *Adapter) Speech(ctx context.Context, req *api.SpeechRequest) ([]byte, error) {
	graph, err := a.reg.SpeechGraph()
	if err != nil {
		return nil, err
	}

	if err := graph.Acquire(ctx); err != nil {
		return nil, err
	}
	defer graph.Release()

	if err := graph.SetInput(0, runtime.TensorTypeU8, []int{1}, []byte(req.Input)); err != nil {
		return nil, err
	}
	if err := graph.Compute(); err != nil {
		return nil, err
	}
	return graph.Output(0)
}

// GenerateImage drives the text-to-image context and returns the
// result as a URL under the archive dir or as base64, per
// response_format.
func (a *Adapter) GenerateImage(ctx context.Context, req *api.ImageCreateRequest) (*api.ImageResponse, error) {
	graph, err := a.reg.TextToImage()
	if err != nil {
		return nil, err
	}
	return a.runDiffusion(ctx, graph, req.Prompt, req.ResponseFormat, func(m *registry.SDMetadata) {
		m.NegativePrompt = req.NegativePrompt
		applyImageFields(m, req.Size, req.Seed, req.Steps)
		if req.CfgScale != nil {
			m.CfgScale = *req.CfgScale
		}
	})
}

// EditImage drives the image-to-image context with the stored source
// image.
func (a *Adapter) EditImage(ctx context.Context, req *api.ImageEditRequest, imagePath string) (*api.ImageResponse, error) {
	graph, err := a.reg.ImageToImage()
	if err != nil {
		return nil, err
	}
	return a.runDiffusion(ctx, graph, req.Prompt, req.ResponseFormat, func(m *registry.SDMetadata) {
		m.ImagePath = imagePath
		applyImageFields(m, req.Size, req.Seed, 0)
		if req.Strength != nil {
			m.Strength = *req.Strength
		}
	})
}

func applyImageFields(m *registry.SDMetadata, size string, seed *int64, steps int) {
	if w, h, ok := parseSize(size); ok {
		m.Width, m.Height = w, h
	}
	if seed != nil {
		m.Seed = *seed
	}
	if steps > 0 {
		m.SampleSteps = steps
	}
}

func parseSize(size string) (w, h int, ok bool) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, werr := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, herr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if werr != nil || herr != nil || w < 1 || h < 1 {
		return 0, 0, false
	}
	return w, h, true
}

func (a *Adapter) runDiffusion(ctx context.Context, graph *registry.Graph[registry.SDMetadata], prompt, responseFormat string, overlay func(*registry.SDMetadata)) (*api.ImageResponse, error) {
	outDir := filepath.Join(a.ArchiveDir, uuid.NewString())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	outPath := filepath.Join(outDir, "output.png")

	if err := graph.Acquire(ctx); err != nil {
		return nil, err
	}
	defer graph.Release()

	restore, err := graph.Override(func(m *registry.SDMetadata) {
		overlay(m)
		m.OutputPath = outPath
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := restore(); err != nil {
			a.log.Error("restoring image metadata", "error", err)
		}
	}()

	if err := graph.SetInput(0, runtime.TensorTypeU8, []int{1}, []byte(prompt)); err != nil {
		return nil, err
	}
	if err := graph.Compute(); err != nil {
		return nil, err
	}

	obj := api.ImageObject{}
	if strings.EqualFold(responseFormat, "b64_json") {
		raw, err := os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("reading generated image: %w", err)
		}
		obj.B64JSON = base64.StdEncoding.EncodeToString(raw)
	} else {
		obj.URL = "/" + filepath.ToSlash(outPath)
	}

	return &api.ImageResponse{
		Created: time.Now().Unix(),
		Data:    []api.ImageObject{obj},
	}, nil
}
