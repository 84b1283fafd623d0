// Package rag implements the retrieval-augmented generation pipeline:
// ingesting document chunks into the vector database and retrieving
// context for a query. Both operations require rag running mode.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/embed"
	"github.com/LlamaEdge/llama-api-server/qdrant"
	"github.com/LlamaEdge/llama-api-server/registry"
)

var ErrMissingVdb = errors.New("vdb_server_url and vdb_collection_name are required")

type Pipeline struct {
	reg *registry.Registry
	emb *embed.Embedder
	log *slog.Logger
}

func New(reg *registry.Registry, emb *embed.Embedder, log *slog.Logger) *Pipeline {
	return &Pipeline{reg: reg, emb: emb, log: log}
}

// ScoredPoint is one retrieved chunk with its similarity score.
type ScoredPoint struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// RetrieveObject is the result of a context retrieval.
type RetrieveObject struct {
	Points         []ScoredPoint `json:"points,omitempty"`
	Limit          uint64        `json:"limit"`
	ScoreThreshold *float64      `json:"score_threshold,omitempty"`
}

// Ingest embeds the request's chunks and persists one point per chunk
// into the configured collection, creating the collection on first
// use with the dimensionality of the produced vectors.
func (p *Pipeline) Ingest(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error) {
	if err := p.reg.CheckRag(); err != nil {
		return nil, err
	}
	if req.VdbServerURL == "" || req.VdbCollectionName == "" {
		return nil, ErrMissingVdb
	}

	// Vectors must come back as floats regardless of the caller's
	// encoding preference; the wire response keeps the floats too.
	embedReq := *req
	embedReq.EncodingFormat = ""

	resp, err := p.emb.Embeddings(ctx, &embedReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no chunks to ingest")
	}

	chunks := embed.Flatten(req.Input)

	points := make([]qdrant.Point, 0, len(resp.Data))
	for i, obj := range resp.Data {
		vec, ok := obj.Embedding.([]float64)
		if !ok {
			return nil, fmt.Errorf("unexpected embedding shape for chunk %d", i)
		}
		points = append(points, qdrant.Point{
			ID:      uint64(i),
			Vector:  vec,
			Payload: map[string]any{"source": chunks[i]},
		})
	}

	client, err := qdrant.NewClient(req.VdbServerURL, req.VdbAPIKey)
	if err != nil {
		return nil, err
	}

	exists, err := client.CollectionExists(ctx, req.VdbCollectionName)
	if err != nil {
		return nil, err
	}
	if !exists {
		dim := len(points[0].Vector)
		p.log.Info("creating collection", "name", req.VdbCollectionName, "dimension", dim)
		if err := client.CreateCollection(ctx, req.VdbCollectionName, dim); err != nil {
			return nil, err
		}
	}

	if err := client.UpsertPoints(ctx, req.VdbCollectionName, points); err != nil {
		return nil, err
	}

	p.log.Info("ingested chunks", "collection", req.VdbCollectionName, "count", len(points))
	return resp, nil
}

// Retrieve searches the collection for the query vector and returns
// the deduplicated context chunks, best first. Hits that share a
// source keep only their first occurrence.
func (p *Pipeline) Retrieve(ctx context.Context, query []float64, serverURL, collection string, limit uint64, scoreThreshold *float64, apiKey string) (*RetrieveObject, error) {
	if err := p.reg.CheckRag(); err != nil {
		return nil, err
	}
	if serverURL == "" || collection == "" {
		return nil, ErrMissingVdb
	}

	client, err := qdrant.NewClient(serverURL, apiKey)
	if err != nil {
		return nil, err
	}

	hits, err := client.SearchPoints(ctx, collection, query, limit, scoreThreshold)
	if err != nil {
		return nil, err
	}

	// Hits stay in backend order; the local cosine pass is purely
	// diagnostic.
	if n := cosineInversions(query, hits); n > 0 {
		p.log.Debug("backend score order disagrees with local cosine",
			"collection", collection, "inversions", n)
	}

	seen := make(map[string]struct{}, len(hits))
	var points []ScoredPoint
	for _, hit := range hits {
		source, ok := hit.Payload["source"].(string)
		if !ok || source == "" {
			continue
		}
		if _, dup := seen[source]; dup {
			continue
		}
		seen[source] = struct{}{}
		points = append(points, ScoredPoint{Source: source, Score: hit.Score})
	}

	return &RetrieveObject{
		Points:         points,
		Limit:          limit,
		ScoreThreshold: scoreThreshold,
	}, nil
}

// RetrieveText embeds the query text and retrieves its context.
func (p *Pipeline) RetrieveText(ctx context.Context, req *api.RetrieveRequest) (*RetrieveObject, error) {
	if err := p.reg.CheckRag(); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, errors.New("'query' must not be empty")
	}

	resp, err := p.emb.Embeddings(ctx, &api.EmbeddingRequest{
		Model: req.Model,
		Input: api.EmbeddingInput{Text: req.Query},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding the query produced no vector")
	}
	vec, ok := resp.Data[0].Embedding.([]float64)
	if !ok {
		return nil, errors.New("unexpected embedding shape for query")
	}

	limit := req.Limit
	if limit == 0 {
		limit = 5
	}
	return p.Retrieve(ctx, vec, req.VdbServerURL, req.VdbCollectionName, limit, req.ScoreThreshold, req.VdbAPIKey)
}
