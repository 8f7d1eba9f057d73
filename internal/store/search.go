package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"arthouse/internal/models"
)

var ErrSearchUnavailable = errors.New("search index unavailable")

// SearchIndex keeps one Elasticsearch index in step with a document collection
// and answers filtered listings from it.
type SearchIndex struct {
	client     *elasticsearch.Client
	index      string
	textFields []string
}

// NewSearchIndex names the index <prefix>-<name>. textFields are matched by free-text queries.
func NewSearchIndex(client *elasticsearch.Client, prefix, name string, textFields ...string) *SearchIndex {
	index := name
	if prefix != "" {
		index = prefix + "-" + name
	}
	return &SearchIndex{client: client, index: index, textFields: textFields}
}

func (s *SearchIndex) Name() string { return s.index }

// EnsureIndex creates the index with keyword mappings for the filterable fields.
// category and tags are lowercased on write and on term queries.
func (s *SearchIndex) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	properties := map[string]interface{}{
		"category":  map[string]interface{}{"type": "keyword", "normalizer": "lowercase"},
		"tags":      map[string]interface{}{"type": "keyword", "normalizer": "lowercase"},
		"status":    map[string]interface{}{"type": "keyword"},
		"createdAt": map[string]interface{}{"type": "date"},
	}
	for _, f := range s.textFields {
		properties[f] = map[string]interface{}{"type": "text"}
	}

	body, _ := json.Marshal(map[string]interface{}{
		"settings": map[string]interface{}{
			"analysis": map[string]interface{}{
				"normalizer": map[string]interface{}{
					"lowercase": map[string]interface{}{"type": "custom", "filter": []string{"lowercase"}},
				},
			},
		},
		"mappings": map[string]interface{}{"properties": properties},
	})

	res, err = esapi.IndicesCreateRequest{Index: s.index, Body: bytes.NewReader(body)}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("create index %s: %s", s.index, res.String())
	}
	return nil
}

// Index writes doc under id.
func (s *SearchIndex) Index(ctx context.Context, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", s.index, err)
	}

	res, err := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index %s/%s: %s", s.index, id, res.String())
	}
	return nil
}

// Delete removes id. A missing document is not an error.
func (s *SearchIndex) Delete(ctx context.Context, id string) error {
	res, err := esapi.DeleteRequest{Index: s.index, DocumentID: id, Refresh: "true"}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s/%s: %s", s.index, id, res.String())
	}
	return nil
}

// Search returns the _source of every hit, newest first.
func (s *SearchIndex) Search(ctx context.Context, filter models.SearchFilter) ([]json.RawMessage, error) {
	size := filter.Size()

	body, _ := json.Marshal(s.buildQuery(filter))

	res, err := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search %s failed with status %d: %s", s.index, res.StatusCode, string(msg))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode %s search response: %w", s.index, err)
	}

	docs := make([]json.RawMessage, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

func (s *SearchIndex) buildQuery(filter models.SearchFilter) map[string]interface{} {
	must := []interface{}{}
	filters := []interface{}{}

	if filter.Query != "" && len(s.textFields) > 0 {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  filter.Query,
				"fields": s.textFields,
				"type":   "best_fields",
			},
		})
	}
	if filter.Category != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"category": strings.ToLower(filter.Category)}})
	}
	if filter.Tag != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"tags": strings.ToLower(filter.Tag)}})
	}
	if filter.Status != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"status": filter.Status}})
	}

	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(must) > 0 || len(filters) > 0 {
		query = map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filters,
			},
		}
	}

	return map[string]interface{}{
		"query": query,
		"sort":  []interface{}{map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc", "unmapped_type": "date"}}},
	}
}
