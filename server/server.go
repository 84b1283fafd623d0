// Package server exposes the OpenAI-compatible HTTP surface. It owns
// routing, authentication and the wire-level error envelope; all model
// work is delegated to the generate, embed, rag and media packages.
package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/embed"
	"github.com/LlamaEdge/llama-api-server/generate"
	"github.com/LlamaEdge/llama-api-server/media"
	"github.com/LlamaEdge/llama-api-server/prompt"
	"github.com/LlamaEdge/llama-api-server/qdrant"
	"github.com/LlamaEdge/llama-api-server/rag"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/version"
)

type Server struct {
	reg   *registry.Registry
	gen   *generate.Generator
	emb   *embed.Embedder
	rag   *rag.Pipeline
	media *media.Adapter
	log   *slog.Logger

	// APIKey, when non-empty, turns on bearer-token authentication
	// for every route.
	APIKey string

	// ArchiveDir holds uploaded files and generated images.
	ArchiveDir string
}

func New(reg *registry.Registry, archiveDir string, log *slog.Logger) *Server {
	emb := embed.New(reg, log)
	m := media.New(reg, log)
	m.ArchiveDir = archiveDir

	return &Server{
		reg:        reg,
		gen:        generate.New(reg, log),
		emb:        emb,
		rag:        rag.New(reg, emb, log),
		media:      m,
		log:        log,
		ArchiveDir: archiveDir,
	}
}

// Routes builds the gin engine with every route registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	r.Use(s.authenticate)

	v1 := r.Group("/v1")
	v1.GET("/models", s.listModels)
	v1.POST("/chat/completions", s.chatCompletions)
	v1.POST("/completions", s.completions)
	v1.POST("/embeddings", s.embeddings)
	v1.POST("/retrieve", s.retrieve)

	v1.POST("/files", s.uploadFile)
	v1.GET("/files", s.listFiles)
	v1.GET("/files/:id", s.getFile)
	v1.DELETE("/files/:id", s.deleteFile)
	v1.POST("/chunks", s.chunks)

	v1.POST("/audio/transcriptions", s.transcriptions)
	v1.POST("/audio/translations", s.translations)
	v1.POST("/audio/speech", s.speech)

	v1.POST("/images/generations", s.imageGenerations)
	v1.POST("/images/edits", s.imageEdits)

	v1.GET("/info", s.info)
	v1.GET("/health", s.health)

	return r
}

// Run serves until the listener closes.
func (s *Server) Run(ln net.Listener) error {
	srv := &http.Server{Handler: s.Routes()}
	s.log.Info("listening", "addr", ln.Addr().String())
	return srv.Serve(ln)
}

func (s *Server) authenticate(c *gin.Context) {
	if s.APIKey == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.APIKey {
		code := http.StatusUnauthorized
		c.AbortWithStatusJSON(code, api.NewError(code, "invalid api key"))
		return
	}
	c.Next()
}

// statusFor maps service-layer errors onto the HTTP taxonomy: user
// mistakes are 400s, unknown resources 404, vector DB trouble 502,
// everything else 500.
func statusFor(err error) int {
	var qerr *qdrant.Error
	switch {
	case errors.As(err, &qerr):
		return http.StatusBadGateway
	case errors.Is(err, registry.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrModeMismatch),
		errors.Is(err, rag.ErrMissingVdb),
		errors.Is(err, generate.ErrEmptyPrompt),
		errors.Is(err, prompt.ErrNoMessages),
		errors.Is(err, prompt.ErrNoUserMessage),
		errors.Is(err, prompt.ErrNoAssistantMessage),
		errors.Is(err, prompt.ErrNoAvailableTools),
		errors.Is(err, prompt.ErrUnsupportedContent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(code, api.NewError(code, err.Error()))
}

func (s *Server) badRequest(c *gin.Context, err error) {
	code := http.StatusBadRequest
	c.AbortWithStatusJSON(code, api.NewError(code, err.Error()))
}

func (s *Server) info(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.Info(version.Version))
}

func (s *Server) health(c *gin.Context) {
	c.Status(http.StatusOK)
}
