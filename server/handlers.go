package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LlamaEdge/llama-api-server/api"
)

func (s *Server) listModels(c *gin.Context) {
	created := time.Now().Unix()

	list := api.ModelList{Object: "list"}
	for _, name := range s.reg.ChatModels() {
		list.Data = append(list.Data, api.Model{ID: name, Object: "model", Created: created, OwnedBy: "library"})
	}
	for _, name := range s.reg.EmbeddingModels() {
		list.Data = append(list.Data, api.Model{ID: name, Object: "model", Created: created, OwnedBy: "library"})
	}

	c.JSON(http.StatusOK, list)
}

func (s *Server) chatCompletions(c *gin.Context) {
	var req api.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.badRequest(c, err)
		return
	}

	if !req.Stream {
		resp, err := s.gen.Chat(c.Request.Context(), &req)
		if err != nil {
			s.abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	// SSE headers go out with the first chunk so that pre-stream
	// failures can still produce a JSON error body.
	streaming := false
	err := s.gen.ChatStream(c.Request.Context(), &req, func(chunk api.ChatCompletionChunk) error {
		if !streaming {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			streaming = true
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		if !streaming {
			s.abortError(c, err)
			return
		}
		// The stream already carried a terminal chunk; just close.
		s.log.Error("chat stream aborted", "error", err)
		return
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func (s *Server) completions(c *gin.Context) {
	var req api.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Stream {
		s.badRequest(c, errors.New("streaming is not supported on /v1/completions"))
		return
	}
	if len(req.Prompt) == 0 {
		s.badRequest(c, errors.New("'prompt' must not be empty"))
		return
	}

	resp, err := s.gen.Complete(c.Request.Context(), &req)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) embeddings(c *gin.Context) {
	var req api.EmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	// Requests carrying vector DB coordinates are RAG ingests.
	if req.VdbServerURL != "" || req.VdbCollectionName != "" {
		resp, err := s.rag.Ingest(c.Request.Context(), &req)
		if err != nil {
			s.abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	resp, err := s.emb.Embeddings(c.Request.Context(), &req)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) retrieve(c *gin.Context) {
	var req api.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	obj, err := s.rag.RetrieveText(c.Request.Context(), &req)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}
