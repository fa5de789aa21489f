// Package opensearch implements the search index on an OpenSearch cluster
// using the k-NN plugin.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/service"
	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

const DefaultIndexName = "parish_docs"

// Config holds connection settings for the cluster.
type Config struct {
	Addresses  []string
	Username   string
	Password   string
	Index      string
	Insecure   bool
	Dimensions int
}

// Index is a SearchIndex over one OpenSearch index.
type Index struct {
	transport  opensearchapi.Transport
	name       string
	dimensions int
}

// NewIndex creates a client for the configured cluster.
func NewIndex(cfg Config) (*Index, error) {
	osCfg := opensearchgo.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.Insecure {
		osCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for self-signed dev clusters
		}
	}

	client, err := opensearchgo.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return NewIndexWithTransport(client, cfg.Index, cfg.Dimensions), nil
}

// NewIndexWithTransport builds an Index over any opensearchapi transport.
func NewIndexWithTransport(transport opensearchapi.Transport, name string, dimensions int) *Index {
	if name == "" {
		name = DefaultIndexName
	}
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &Index{transport: transport, name: name, dimensions: dimensions}
}

// document is the stored shape of an index entry.
type document struct {
	ID        string         `json:"id"`
	FileID    string         `json:"file_id"`
	Filename  string         `json:"filename"`
	Source    string         `json:"source"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

func toDocument(e domain.IndexEntry) document {
	d := document{
		ID:        e.ID,
		FileID:    e.FileID,
		Filename:  e.Filename,
		Source:    e.Source,
		Text:      e.Text,
		Embedding: e.Embedding,
		Metadata:  e.Metadata.Map(),
	}
	if !e.Metadata.CreatedAt.IsZero() {
		d.CreatedAt = e.Metadata.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return d
}

func (d document) entry() domain.IndexEntry {
	e := domain.IndexEntry{
		ID:       d.ID,
		FileID:   d.FileID,
		Filename: d.Filename,
		Source:   d.Source,
		Text:     d.Text,
		Metadata: domain.MetadataFromMap(d.Metadata),
	}
	if e.Metadata.CreatedAt.IsZero() && d.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, d.CreatedAt); err == nil {
			e.Metadata.CreatedAt = t.UTC()
		}
	}
	return e
}

// EnsureIndex creates the index with the k-NN mapping when it is missing.
func (x *Index) EnsureIndex(ctx context.Context) (bool, error) {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{x.name}}.Do(ctx, x.transport)
	if err != nil {
		return false, fmt.Errorf("failed to check index: %w", err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return false, nil
	}
	if res.StatusCode != http.StatusNotFound {
		return false, fmt.Errorf("failed to check index: status %d", res.StatusCode)
	}

	body, err := json.Marshal(IndexMapping(x.dimensions))
	if err != nil {
		return false, err
	}
	res, err = opensearchapi.IndicesCreateRequest{Index: x.name, Body: bytes.NewReader(body)}.Do(ctx, x.transport)
	if err != nil {
		return false, fmt.Errorf("failed to create index: %w", err)
	}
	if err := responseError("create index", res); err != nil {
		return false, err
	}
	return true, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (x *Index) BulkIndex(ctx context.Context, entries []domain.IndexEntry) (*service.BulkResult, error) {
	result := &service.BulkResult{Items: make([]service.BulkItem, len(entries))}
	if len(entries) == 0 {
		return result, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, e := range entries {
		result.Items[i].ID = e.ID
		action := map[string]any{"index": map[string]any{"_index": x.name, "_id": e.ID}}
		if err := enc.Encode(action); err != nil {
			return nil, err
		}
		if err := enc.Encode(toDocument(e)); err != nil {
			return nil, fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
		}
	}

	res, err := opensearchapi.BulkRequest{Index: x.name, Body: &buf}.Do(ctx, x.transport)
	if err != nil {
		return nil, fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("bulk", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	applyBulkItems(result, parsed)
	return result, nil
}

// applyBulkItems records item errors. Items are reported in request order.
func applyBulkItems(result *service.BulkResult, parsed bulkResponse) {
	for i, item := range parsed.Items {
		if i >= len(result.Items) {
			break
		}
		for _, op := range item {
			if op.Error != nil {
				result.Items[i].Err = fmt.Errorf("%s: %s", op.Error.Type, op.Error.Reason)
			} else if op.Status >= 300 {
				result.Items[i].Err = fmt.Errorf("status %d", op.Status)
			}
		}
	}
	if len(parsed.Items) < len(result.Items) {
		for i := len(parsed.Items); i < len(result.Items); i++ {
			result.Items[i].Err = fmt.Errorf("no bulk response item")
		}
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  *float64 `json:"_score"`
			Source document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (x *Index) KNNQuery(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.Hit, error) {
	if k <= 0 {
		k = service.DefaultSearchK
	}
	body, err := knnBody(vector, k, filter)
	if err != nil {
		return nil, err
	}
	return x.search(ctx, body)
}

func (x *Index) TermQuery(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	body, err := termBody(q)
	if err != nil {
		return nil, err
	}
	return x.search(ctx, body)
}

func (x *Index) search(ctx context.Context, body map[string]any) ([]domain.Hit, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := opensearchapi.SearchRequest{
		Index: []string{x.name},
		Body:  bytes.NewReader(payload),
	}.Do(ctx, x.transport)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("search", res)
	}

	return parseHits(res.Body)
}

func parseHits(r io.Reader) ([]domain.Hit, error) {
	var parsed searchResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]domain.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		entry := h.Source.entry()
		if entry.ID == "" {
			entry.ID = h.ID
		}
		hit := domain.Hit{ID: h.ID, Entry: entry}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (x *Index) DeleteByID(ctx context.Context, id string) error {
	res, err := opensearchapi.DeleteRequest{Index: x.name, DocumentID: id}.Do(ctx, x.transport)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	if res.StatusCode == http.StatusNotFound {
		drain(res)
		return domain.ErrEntryNotFound
	}
	return responseError("delete", res)
}

func (x *Index) Refresh(ctx context.Context) error {
	res, err := opensearchapi.IndicesRefreshRequest{Index: []string{x.name}}.Do(ctx, x.transport)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	return responseError("refresh", res)
}

// responseError closes the body and converts an error status into an error.
func responseError(op string, res *opensearchapi.Response) error {
	defer drain(res)
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("opensearch %s: status %d: %s", op, res.StatusCode, bytes.TrimSpace(body))
}

func drain(res *opensearchapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}
