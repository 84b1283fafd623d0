package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/prompt"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/runtime/runtimetest"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func chatMeta(name string) registry.GgmlMetadata {
	meta := registry.DefaultGgmlMetadata()
	meta.ModelName = name
	meta.ModelAlias = "default"
	meta.PromptTemplate = prompt.TemplateLlama3Chat
	return meta
}

func newServer(t *testing.T, template runtimetest.Fake, chat, embed []registry.GgmlMetadata) (*Server, *runtimetest.Builder) {
	t.Helper()

	builder := &runtimetest.Builder{Template: template}
	reg := registry.New(builder)
	require.NoError(t, reg.Init(chat, embed))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(reg, t.TempDir(), log), builder
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	return w
}

func jsonReq(method, path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func chatBody(content string, stream bool) map[string]any {
	return map[string]any{
		"model":    "tiny",
		"stream":   stream,
		"messages": []map[string]any{{"role": "user", "content": content}},
	}
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)
	s.APIKey = "secret"

	w := do(s, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unauthorized_error", resp.Error.Type)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, do(s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, do(s, req).Code)
}

func TestListModels(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{},
		[]registry.GgmlMetadata{chatMeta("tiny")},
		[]registry.GgmlMetadata{chatMeta("mini-embed")})

	w := do(s, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list api.ModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "tiny", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)
	assert.Equal(t, "mini-embed", list.Data[1].ID)
}

func TestChatCompletions(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{
		Tokens:    [][]byte{[]byte("Hello"), []byte(" world")},
		TokenInfo: []byte(`{"input_tokens":3,"output_tokens":2}`),
	}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, jsonReq(http.MethodPost, "/v1/chat/completions", chatBody("Hi", false)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ChatCompletionObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello world", resp.Choices[0].Message.Content)
	assert.Equal(t, 3, resp.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
}

func TestChatCompletionsValidation(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	body := chatBody("Hi", false)
	body["temperature"] = 9.0
	w := do(s, jsonReq(http.MethodPost, "/v1/chat/completions", body))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
}

func TestChatCompletionsStream(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{
		Tokens:    [][]byte{[]byte("Hello"), []byte(" world")},
		TokenInfo: []byte(`{"input_tokens":3,"output_tokens":2}`),
	}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, jsonReq(http.MethodPost, "/v1/chat/completions", chatBody("Hi", true)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	var content strings.Builder
	var sawRole bool
	for _, frame := range strings.Split(body, "\n\n") {
		payload, ok := strings.CutPrefix(frame, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var chunk api.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		for _, choice := range chunk.Choices {
			if choice.Delta.Role == "assistant" {
				sawRole = true
			}
			content.WriteString(choice.Delta.Content)
		}
	}
	assert.True(t, sawRole)
	assert.Equal(t, "Hello world", content.String())
}

func TestChatStreamModeMismatchIsJSONError(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, nil, []registry.GgmlMetadata{chatMeta("mini-embed")})

	w := do(s, jsonReq(http.MethodPost, "/v1/chat/completions", chatBody("Hi", true)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error.Message, "running mode")
}

func TestCompletions(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{
		Tokens:    [][]byte{[]byte("four")},
		TokenInfo: []byte(`{"input_tokens":2,"output_tokens":1}`),
	}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, jsonReq(http.MethodPost, "/v1/completions", map[string]any{
		"model":  "tiny",
		"prompt": "two plus two is",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.CompletionObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "text_completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "four", resp.Choices[0].Text)
}

func TestCompletionsRejectsStream(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, jsonReq(http.MethodPost, "/v1/completions", map[string]any{
		"model":  "tiny",
		"prompt": "hi",
		"stream": true,
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletionsBlankPrompt(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, jsonReq(http.MethodPost, "/v1/completions", map[string]any{
		"model":  "tiny",
		"prompt": "",
	}))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error.Message, "prompt")
}

func TestEmbeddings(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{
		Outputs:   map[int][]byte{0: []byte(`{"n_embedding":3,"embedding":[0.1,0.2,0.3]}`)},
		TokenInfo: []byte(`{"input_tokens":4,"output_tokens":0}`),
	}, nil, []registry.GgmlMetadata{chatMeta("mini-embed")})

	w := do(s, jsonReq(http.MethodPost, "/v1/embeddings", map[string]any{
		"model": "mini-embed",
		"input": "hello",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.EmbeddingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 4, resp.Usage.PromptTokens)
}

func TestRetrieve(t *testing.T) {
	vdb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/docs/points/search", r.URL.Path)
		io.WriteString(w, `{"result":[{"id":1,"score":0.9,"payload":{"source":"A"}}],"status":"ok"}`)
	}))
	defer vdb.Close()

	builder := &runtimetest.Builder{Template: runtimetest.Fake{
		Outputs:   map[int][]byte{0: []byte(`{"n_embedding":2,"embedding":[0.5,0.5]}`)},
		TokenInfo: []byte(`{"input_tokens":2,"output_tokens":0}`),
	}}
	reg := registry.New(builder)
	require.NoError(t, reg.InitRag(
		[]registry.GgmlMetadata{chatMeta("tiny")},
		[]registry.GgmlMetadata{chatMeta("mini-embed")}))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(reg, t.TempDir(), log)

	w := do(s, jsonReq(http.MethodPost, "/v1/retrieve", api.RetrieveRequest{
		Query:             "what is a lighthouse",
		VdbServerURL:      vdb.URL,
		VdbCollectionName: "docs",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var obj struct {
		Points []struct {
			Source string  `json:"source"`
			Score  float64 `json:"score"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	require.Len(t, obj.Points, 1)
	assert.Equal(t, "A", obj.Points[0].Source)
}

func TestRetrieveNeedsRagMode(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, jsonReq(http.MethodPost, "/v1/retrieve", api.RetrieveRequest{Query: "q"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmbeddingsWithVdbNeedsRagMode(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, nil, []registry.GgmlMetadata{chatMeta("mini-embed")})

	w := do(s, jsonReq(http.MethodPost, "/v1/embeddings", map[string]any{
		"model":               "mini-embed",
		"input":               "hello",
		"vdb_server_url":      "http://127.0.0.1:6333",
		"vdb_collection_name": "default",
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func uploadReq(t *testing.T, path, field, filename, content string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestFilesLifecycle(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, uploadReq(t, "/v1/files", "file", "notes.txt", "first paragraph.\n\nsecond paragraph.", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var file api.FileObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.True(t, strings.HasPrefix(file.ID, "file_"))
	assert.Equal(t, "file", file.Object)
	assert.Equal(t, "notes.txt", file.Filename)
	assert.Equal(t, int64(35), file.Bytes)

	w = do(s, httptest.NewRequest(http.MethodGet, "/v1/files", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list api.ListFilesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, file.ID, list.Data[0].ID)

	w = do(s, httptest.NewRequest(http.MethodGet, "/v1/files/"+file.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, jsonReq(http.MethodPost, "/v1/chunks", api.ChunksRequest{
		ID:            file.ID,
		Filename:      "notes.txt",
		ChunkCapacity: 100,
	}))
	require.Equal(t, http.StatusOK, w.Code)
	var chunks api.ChunksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chunks))
	assert.Equal(t, file.ID, chunks.ID)
	assert.NotEmpty(t, chunks.Chunks)

	w = do(s, httptest.NewRequest(http.MethodDelete, "/v1/files/"+file.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var status api.DeleteFileStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Deleted)

	w = do(s, httptest.NewRequest(http.MethodGet, "/v1/files/"+file.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChunksUnknownFile(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, jsonReq(http.MethodPost, "/v1/chunks", api.ChunksRequest{
		ID:            "file_missing",
		Filename:      "notes.txt",
		ChunkCapacity: 100,
	}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTranscriptionsMultipart(t *testing.T) {
	s, builder := newServer(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte("hello from the tape")},
	}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)
	require.NoError(t, s.reg.InitAudio(registry.DefaultWhisperMetadata(), "whisper.bin"))

	w := do(s, uploadReq(t, "/v1/audio/transcriptions", "file", "clip.wav", "RIFFwav-bytes", map[string]string{
		"model":    "whisper",
		"language": "sv",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var obj api.TranscriptionObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	assert.Equal(t, "hello from the tape", obj.Text)

	// The wave bytes land on tensor 0 of the audio graph.
	audio := builder.Built[len(builder.Built)-1]
	write, ok := audio.LastWrite(0)
	require.True(t, ok)
	assert.Equal(t, []byte("RIFFwav-bytes"), write.Data)
}

func TestTranscriptionsByFileID(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte("archived words")},
	}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)
	require.NoError(t, s.reg.InitAudio(registry.DefaultWhisperMetadata(), "whisper.bin"))

	w := do(s, uploadReq(t, "/v1/files", "file", "clip.wav", "RIFFwav-bytes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var file api.FileObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))

	w = do(s, jsonReq(http.MethodPost, "/v1/audio/transcriptions", map[string]any{
		"file":  file.ID,
		"model": "whisper",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var obj api.TranscriptionObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	assert.Equal(t, "archived words", obj.Text)
}

func TestSpeech(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte("RIFF-pcm")},
	}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)
	require.NoError(t, s.reg.InitSpeech(registry.PiperMetadata{ModelName: "piper"}, "voice.onnx"))

	w := do(s, jsonReq(http.MethodPost, "/v1/audio/speech", api.SpeechRequest{
		Model: "piper",
		Input: "read this aloud",
	}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF-pcm", w.Body.String())
}

func TestImageGenerations(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)
	require.NoError(t, s.reg.InitStableDiffusion("sd.gguf"))

	w := do(s, jsonReq(http.MethodPost, "/v1/images/generations", api.ImageCreateRequest{
		Prompt: "a lighthouse at dusk",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Contains(t, resp.Data[0].URL, "output.png")
}

func TestInfo(t *testing.T) {
	s, _ := newServer(t, runtimetest.Fake{}, []registry.GgmlMetadata{chatMeta("tiny")}, nil)

	w := do(s, httptest.NewRequest(http.MethodGet, "/v1/info", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info registry.ServerInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, registry.ModeChat, info.Mode)
	require.Len(t, info.Models, 1)
	assert.Equal(t, "tiny", info.Models[0].Name)
}
