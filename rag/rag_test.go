package rag

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/embed"
	"github.com/LlamaEdge/llama-api-server/qdrant"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/runtime/runtimetest"
)

func newPipeline(t *testing.T, template runtimetest.Fake) *Pipeline {
	t.Helper()

	builder := &runtimetest.Builder{Template: template}
	reg := registry.New(builder)

	chat := registry.DefaultGgmlMetadata()
	chat.ModelName = "chat-model"
	embedMeta := registry.DefaultGgmlMetadata()
	embedMeta.ModelName = "embed-model"
	require.NoError(t, reg.InitRag([]registry.GgmlMetadata{chat}, []registry.GgmlMetadata{embedMeta}))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(reg, embed.New(reg, log), log)
}

func TestIngest(t *testing.T) {
	var (
		created  bool
		upserted []qdrant.Point
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collections/docs/exists":
			io.WriteString(w, `{"result":{"exists":false},"status":"ok"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			created = true
			io.WriteString(w, `{"result":true,"status":"ok"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			var body struct {
				Points []qdrant.Point `json:"points"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			upserted = body.Points
			io.WriteString(w, `{"result":{"status":"completed"},"status":"ok"}`)
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	p := newPipeline(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte(`{"n_embedding":2,"embedding":[0.5,0.5]}`)},
	})

	resp, err := p.Ingest(context.Background(), &api.EmbeddingRequest{
		Input:             api.EmbeddingInput{Texts: []string{"chunk one", "chunk two"}},
		VdbServerURL:      srv.URL,
		VdbCollectionName: "docs",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)

	assert.True(t, created)
	require.Len(t, upserted, 2)
	assert.Equal(t, uint64(0), upserted[0].ID)
	assert.Equal(t, "chunk one", upserted[0].Payload["source"])
	assert.Equal(t, uint64(1), upserted[1].ID)
	assert.Equal(t, "chunk two", upserted[1].Payload["source"])
	assert.Equal(t, []float64{0.5, 0.5}, upserted[0].Vector)
}

func TestIngestRequiresVdbCoordinates(t *testing.T) {
	p := newPipeline(t, runtimetest.Fake{})

	_, err := p.Ingest(context.Background(), &api.EmbeddingRequest{
		Input: api.EmbeddingInput{Text: "chunk"},
	})
	assert.ErrorIs(t, err, ErrMissingVdb)
}

func TestRetrieveDeduplicatesBySource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/docs/points/search", r.URL.Path)
		io.WriteString(w, `{"result":[
			{"id":1,"score":0.9,"payload":{"source":"A"}},
			{"id":2,"score":0.85,"payload":{"source":"A"}},
			{"id":3,"score":0.8,"payload":{"source":"B"}},
			{"id":4,"score":0.6,"payload":{"source":"C"}},
			{"id":5,"score":0.55,"payload":{"source":"B"}}
		],"status":"ok"}`)
	}))
	defer srv.Close()

	p := newPipeline(t, runtimetest.Fake{})

	got, err := p.Retrieve(context.Background(), []float64{0.1, 0.2}, srv.URL, "docs", 5, nil, "")
	require.NoError(t, err)

	assert.Equal(t, []ScoredPoint{
		{Source: "A", Score: 0.9},
		{Source: "B", Score: 0.8},
		{Source: "C", Score: 0.6},
	}, got.Points)
	assert.Equal(t, uint64(5), got.Limit)
}

func TestRetrieveText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/docs/points/search", r.URL.Path)

		var body struct {
			Vector []float64 `json:"vector"`
			Limit  uint64    `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []float64{0.5, 0.5}, body.Vector)
		assert.Equal(t, uint64(5), body.Limit)

		io.WriteString(w, `{"result":[
			{"id":1,"score":0.9,"payload":{"source":"A"}}
		],"status":"ok"}`)
	}))
	defer srv.Close()

	p := newPipeline(t, runtimetest.Fake{
		Outputs:   map[int][]byte{0: []byte(`{"n_embedding":2,"embedding":[0.5,0.5]}`)},
		TokenInfo: []byte(`{"input_tokens":2,"output_tokens":0}`),
	})

	got, err := p.RetrieveText(context.Background(), &api.RetrieveRequest{
		Query:             "what is a lighthouse",
		VdbServerURL:      srv.URL,
		VdbCollectionName: "docs",
	})
	require.NoError(t, err)
	assert.Equal(t, []ScoredPoint{{Source: "A", Score: 0.9}}, got.Points)
}

func TestRetrieveTextEmptyQuery(t *testing.T) {
	p := newPipeline(t, runtimetest.Fake{})

	_, err := p.RetrieveText(context.Background(), &api.RetrieveRequest{
		VdbServerURL:      "http://localhost:6333",
		VdbCollectionName: "docs",
	})
	assert.ErrorContains(t, err, "'query' must not be empty")
}

func TestRetrieveModeGating(t *testing.T) {
	builder := &runtimetest.Builder{}
	reg := registry.New(builder)
	meta := registry.DefaultGgmlMetadata()
	meta.ModelName = "chat"
	require.NoError(t, reg.Init([]registry.GgmlMetadata{meta}, nil))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(reg, embed.New(reg, log), log)

	_, err := p.Retrieve(context.Background(), []float64{0.1}, "http://localhost:6333", "docs", 5, nil, "")
	assert.ErrorIs(t, err, registry.ErrModeMismatch)
}

func TestRetrievePreservesBackendOrder(t *testing.T) {
	// The hit vectors are chosen so local cosine against the query
	// ranks B above A; the backend's scores say the opposite. The
	// result must follow the backend.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":[
			{"id":1,"score":0.9,"payload":{"source":"A"},"vector":[0,1]},
			{"id":2,"score":0.8,"payload":{"source":"B"},"vector":[1,0.1]}
		],"status":"ok"}`)
	}))
	defer srv.Close()

	p := newPipeline(t, runtimetest.Fake{})

	got, err := p.Retrieve(context.Background(), []float64{1, 0}, srv.URL, "docs", 5, nil, "")
	require.NoError(t, err)

	assert.Equal(t, []ScoredPoint{
		{Source: "A", Score: 0.9},
		{Source: "B", Score: 0.8},
	}, got.Points)
}

func TestCosineInversions(t *testing.T) {
	query := []float64{1, 0}

	// Local cosine ranks the second hit higher than the first.
	inverted := []qdrant.ScoredPoint{
		{ID: 1, Score: 0.5, Vector: []float64{0, 1}},
		{ID: 2, Score: 0.4, Vector: []float64{1, 0.1}},
	}
	assert.Equal(t, 1, cosineInversions(query, inverted))

	agreeing := []qdrant.ScoredPoint{
		{ID: 1, Score: 0.9, Vector: []float64{1, 0}},
		{ID: 2, Score: 0.2, Vector: []float64{0, 1}},
	}
	assert.Equal(t, 0, cosineInversions(query, agreeing))

	// Hits without vectors are skipped.
	plain := []qdrant.ScoredPoint{{ID: 1, Score: 0.5}, {ID: 2, Score: 0.9}}
	assert.Equal(t, 0, cosineInversions(query, plain))
}
