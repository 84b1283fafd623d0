package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/chunker"
)

func (s *Server) uploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		s.badRequest(c, fmt.Errorf("missing 'file' part: %w", err))
		return
	}

	purpose := c.PostForm("purpose")
	if purpose == "" {
		purpose = "assistants"
	}

	id := "file_" + uuid.NewString()
	name := filepath.Base(fh.Filename)
	dir := filepath.Join(s.ArchiveDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.abortError(c, err)
		return
	}
	if err := c.SaveUploadedFile(fh, filepath.Join(dir, name)); err != nil {
		s.abortError(c, err)
		return
	}

	obj, err := s.archivedObject(id)
	if err != nil {
		s.abortError(c, err)
		return
	}
	obj.Purpose = purpose
	c.JSON(http.StatusOK, obj)
}

func (s *Server) listFiles(c *gin.Context) {
	resp := api.ListFilesResponse{Object: "list", Data: []api.FileObject{}}

	entries, err := os.ReadDir(s.ArchiveDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.abortError(c, err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "file_") {
			continue
		}
		obj, err := s.archivedObject(e.Name())
		if err != nil {
			continue
		}
		resp.Data = append(resp.Data, *obj)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) getFile(c *gin.Context) {
	obj, err := s.archivedObject(c.Param("id"))
	if err != nil {
		code := http.StatusNotFound
		c.AbortWithStatusJSON(code, api.NewError(code, err.Error()))
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (s *Server) deleteFile(c *gin.Context) {
	id := c.Param("id")
	dir := filepath.Join(s.ArchiveDir, filepath.Base(id))

	if _, err := os.Stat(dir); err != nil {
		code := http.StatusNotFound
		c.AbortWithStatusJSON(code, api.NewError(code, fmt.Sprintf("file %q not found", id)))
		return
	}

	deleted := os.RemoveAll(dir) == nil
	c.JSON(http.StatusOK, api.DeleteFileStatus{ID: id, Object: "file", Deleted: deleted})
}

func (s *Server) chunks(c *gin.Context) {
	var req api.ChunksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	path := filepath.Join(s.ArchiveDir, filepath.Base(req.ID), filepath.Base(req.Filename))
	data, err := os.ReadFile(path)
	if err != nil {
		code := http.StatusNotFound
		c.AbortWithStatusJSON(code, api.NewError(code, fmt.Sprintf("file %q not found", req.ID)))
		return
	}

	kind := strings.TrimPrefix(filepath.Ext(req.Filename), ".")
	out, err := chunker.ChunkText(string(data), kind, req.ChunkCapacity)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ChunksResponse{ID: req.ID, Chunks: out})
}

// archivedObject describes the single file stored under an archive id.
func (s *Server) archivedObject(id string) (*api.FileObject, error) {
	dir := filepath.Join(s.ArchiveDir, filepath.Base(id))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("file %q not found", id)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		return &api.FileObject{
			ID:        id,
			Object:    "file",
			Bytes:     fi.Size(),
			CreatedAt: fi.ModTime().Unix(),
			Filename:  e.Name(),
			Purpose:   "assistants",
		}, nil
	}
	return nil, fmt.Errorf("file %q not found", id)
}

// archivedPath resolves an archive id to the stored file's path.
func (s *Server) archivedPath(id string) (string, error) {
	obj, err := s.archivedObject(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.ArchiveDir, filepath.Base(id), obj.Filename), nil
}
