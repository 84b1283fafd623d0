// Package cmd wires the CLI: configuration in, registry init, server
// up.
package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/LlamaEdge/llama-api-server/config"
	"github.com/LlamaEdge/llama-api-server/logutil"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/runtime"
	"github.com/LlamaEdge/llama-api-server/server"
	"github.com/LlamaEdge/llama-api-server/version"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "llama-api-server",
		Short: "OpenAI-compatible API server for local models",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true
		},
	}

	rootCmd.AddCommand(serveCmd(), versionCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	cfg := config.Default()
	var (
		configPath     string
		chatModel      config.ModelConfig
		embeddingModel config.ModelConfig

		ctxSize, batchSize, nGPULayers uint64
		nPredict                       int64
		temp, topP, repeatPenalty      float64
		embedCtxSize                   uint64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if changed := changedModelFlags(cmd); len(changed) > 0 {
					return fmt.Errorf("--config is exclusive with %s", strings.Join(changed, ", "))
				}
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
				return serve(cfg)
			}

			// Optional numerics only land in the model config when
			// the flag was actually set, so the registry defaults
			// survive.
			setIfChanged(cmd, "ctx-size", &chatModel.CtxSize, &ctxSize)
			setIfChanged(cmd, "batch-size", &chatModel.BatchSize, &batchSize)
			setIfChanged(cmd, "n-gpu-layers", &chatModel.NGPULayers, &nGPULayers)
			setIfChanged(cmd, "n-predict", &chatModel.NPredict, &nPredict)
			setIfChanged(cmd, "temp", &chatModel.Temperature, &temp)
			setIfChanged(cmd, "top-p", &chatModel.TopP, &topP)
			setIfChanged(cmd, "repeat-penalty", &chatModel.RepeatPenalty, &repeatPenalty)
			setIfChanged(cmd, "embedding-ctx-size", &embeddingModel.CtxSize, &embedCtxSize)

			if chatModel.Name != "" {
				cfg.Chat = append(cfg.Chat, chatModel)
			}
			if embeddingModel.Name != "" {
				cfg.Embedding = append(cfg.Embedding, embeddingModel)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file (exclusive with the other flags)")
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.ArchiveDir, "archive-dir", cfg.ArchiveDir, "directory for uploaded files and generated images")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&cfg.Rag, "rag", false, "enable rag mode (needs chat and embedding models)")

	flags.StringVar(&chatModel.Name, "model-name", "", "chat model name")
	flags.StringVar(&chatModel.Alias, "model-alias", "", "chat model alias")
	flags.StringVar(&chatModel.PromptTemplate, "prompt-template", "", "prompt template tag for the chat model")
	flags.StringVar(&chatModel.ReversePrompt, "reverse-prompt", "", "stop generation at this string")
	flags.StringVar(&chatModel.MMProj, "mmproj", "", "multimodal projector file for vision models")
	flags.Uint64Var(&ctxSize, "ctx-size", 0, "context window size")
	flags.Uint64Var(&batchSize, "batch-size", 0, "prompt batch size")
	flags.Int64Var(&nPredict, "n-predict", 0, "max tokens to generate")
	flags.Uint64Var(&nGPULayers, "n-gpu-layers", 0, "layers to offload to the GPU")
	flags.Float64Var(&temp, "temp", 0, "sampling temperature")
	flags.Float64Var(&topP, "top-p", 0, "nucleus sampling probability")
	flags.Float64Var(&repeatPenalty, "repeat-penalty", 0, "repetition penalty")

	flags.StringVar(&embeddingModel.Name, "embedding-model-name", "", "embedding model name")
	flags.Uint64Var(&embedCtxSize, "embedding-ctx-size", 0, "embedding model context size")

	flags.StringVar(&cfg.WhisperModel, "whisper-model", "", "whisper model file for audio endpoints")
	flags.StringVar(&cfg.TTSModel, "tts-model", "", "text-to-speech model file")
	flags.StringVar(&cfg.SDModel, "sd-model", "", "stable diffusion gguf for image endpoints")

	return cmd
}

func setIfChanged[T any](cmd *cobra.Command, name string, dst **T, src *T) {
	if cmd.Flags().Changed(name) {
		*dst = src
	}
}

// changedModelFlags names every flag set on the command line besides
// --config itself.
func changedModelFlags(cmd *cobra.Command) []string {
	var changed []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			changed = append(changed, "--"+f.Name)
		}
	})
	return changed
}

func serve(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	chat, err := cfg.ChatMetadata()
	if err != nil {
		return err
	}
	embed, err := cfg.EmbeddingMetadata()
	if err != nil {
		return err
	}

	builder, err := runtime.Builder()
	if err != nil {
		return err
	}
	reg := registry.New(builder)

	switch {
	case cfg.Rag:
		err = reg.InitRag(chat, embed)
	case len(chat) > 0 || len(embed) > 0:
		err = reg.Init(chat, embed)
	}
	if err != nil {
		return err
	}

	if cfg.WhisperModel != "" {
		if err := reg.InitAudio(registry.DefaultWhisperMetadata(), cfg.WhisperModel); err != nil {
			return err
		}
	}
	if cfg.TTSModel != "" {
		if err := reg.InitSpeech(registry.PiperMetadata{ModelName: cfg.TTSModel}, cfg.TTSModel); err != nil {
			return err
		}
	}
	if cfg.SDModel != "" {
		if err := reg.InitStableDiffusion(cfg.SDModel); err != nil {
			return err
		}
	}

	s := server.New(reg, cfg.ArchiveDir, log)
	s.APIKey = os.Getenv("API_KEY")

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	log.Info("starting", "version", version.Version, "mode", reg.Mode())
	return s.Run(ln)
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "trace":
		lvl = logutil.LevelTrace
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return logutil.NewPrettyLogger(os.Stderr, lvl)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return nil
		},
	}
}
