package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/LlamaEdge/llama-api-server/api"
)

func (s *Server) transcriptions(c *gin.Context) {
	var req api.TranscriptionRequest
	var wave []byte

	if c.ContentType() == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			s.badRequest(c, fmt.Errorf("missing 'file' part: %w", err))
			return
		}
		wave, err = readUpload(fh)
		if err != nil {
			s.abortError(c, err)
			return
		}

		req.Model = c.PostForm("model")
		req.Language = c.PostForm("language")
		req.Prompt = c.PostForm("prompt")
		req.ResponseFormat = c.PostForm("response_format")
		req.Temperature = formFloat(c, "temperature")
		req.DetectLanguage = c.PostForm("detect_language") == "true"
		req.OffsetTime = formInt(c, "offset_time")
		req.Duration = formInt(c, "duration")
		req.MaxContext = formInt(c, "max_context")
		req.MaxLen = formInt(c, "max_len")
		req.SplitOnWord = c.PostForm("split_on_word") == "true"
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
		var err error
		wave, err = s.archivedAudio(req.File)
		if err != nil {
			s.badRequest(c, err)
			return
		}
	}

	obj, err := s.media.Transcribe(c.Request.Context(), &req, wave)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (s *Server) translations(c *gin.Context) {
	var req api.TranslationRequest
	var wave []byte

	if c.ContentType() == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			s.badRequest(c, fmt.Errorf("missing 'file' part: %w", err))
			return
		}
		wave, err = readUpload(fh)
		if err != nil {
			s.abortError(c, err)
			return
		}

		req.Model = c.PostForm("model")
		req.Language = c.PostForm("language")
		req.Prompt = c.PostForm("prompt")
		req.ResponseFormat = c.PostForm("response_format")
		req.Temperature = formFloat(c, "temperature")
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
		var err error
		wave, err = s.archivedAudio(req.File)
		if err != nil {
			s.badRequest(c, err)
			return
		}
	}

	obj, err := s.media.Translate(c.Request.Context(), &req, wave)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (s *Server) speech(c *gin.Context) {
	var req api.SpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Input == "" {
		s.badRequest(c, errors.New("'input' must not be empty"))
		return
	}

	wav, err := s.media.Speech(c.Request.Context(), &req)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/wav", wav)
}

func (s *Server) imageGenerations(c *gin.Context) {
	var req api.ImageCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Prompt == "" {
		s.badRequest(c, errors.New("'prompt' must not be empty"))
		return
	}

	resp, err := s.media.GenerateImage(c.Request.Context(), &req)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) imageEdits(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		s.badRequest(c, fmt.Errorf("missing 'image' part: %w", err))
		return
	}

	req := api.ImageEditRequest{
		Image:          filepath.Base(fh.Filename),
		Prompt:         c.PostForm("prompt"),
		Mask:           c.PostForm("mask"),
		Model:          c.PostForm("model"),
		N:              formInt(c, "n"),
		Size:           c.PostForm("size"),
		ResponseFormat: c.PostForm("response_format"),
		Strength:       formFloat(c, "strength"),
	}
	if req.Prompt == "" {
		s.badRequest(c, errors.New("'prompt' must not be empty"))
		return
	}
	if v := c.PostForm("seed"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.Seed = &seed
		}
	}

	// The source image goes through the archive like any upload.
	dir := filepath.Join(s.ArchiveDir, "file_"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.abortError(c, err)
		return
	}
	srcPath := filepath.Join(dir, filepath.Base(fh.Filename))
	if err := c.SaveUploadedFile(fh, srcPath); err != nil {
		s.abortError(c, err)
		return
	}

	resp, err := s.media.EditImage(c.Request.Context(), &req, srcPath)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) archivedAudio(id string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("'file' must name an uploaded file id")
	}
	path, err := s.archivedPath(id)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formFloat(c *gin.Context, key string) *float64 {
	v := c.PostForm(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func formInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.PostForm(key))
	if err != nil {
		return 0
	}
	return n
}
