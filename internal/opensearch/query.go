package opensearch

import (
	"fmt"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
)

// fieldPath maps a logical field to its path in the index. Metadata strings
// are dynamically mapped, so exact matches go through the keyword sub-field.
func fieldPath(field string) (string, bool) {
	switch field {
	case domain.FieldFileID:
		return "file_id", true
	case domain.FieldCreatedAt:
		return "created_at", true
	case domain.FieldParishID, domain.FieldDocumentType:
		return "metadata." + field + ".keyword", true
	}
	return "", false
}

// filterClauses flattens a filter into the clause list of a bool.filter.
func filterClauses(f domain.Filter) ([]map[string]any, error) {
	switch f := f.(type) {
	case nil:
		return nil, nil
	case domain.Term:
		path, ok := fieldPath(f.Field)
		if !ok || f.Field == domain.FieldCreatedAt {
			return nil, domain.UnsupportedField(f.Field)
		}
		return []map[string]any{{"term": map[string]any{path: f.Value}}}, nil
	case domain.DateRange:
		if f.Field != domain.FieldCreatedAt {
			return nil, domain.UnsupportedField(f.Field)
		}
		return []map[string]any{{"range": map[string]any{
			"created_at": map[string]any{
				"gte": f.From.UTC().Format(time.RFC3339Nano),
				"lte": f.To.UTC().Format(time.RFC3339Nano),
			},
		}}}, nil
	case domain.And:
		var out []map[string]any
		for _, c := range f {
			clauses, err := filterClauses(c)
			if err != nil {
				return nil, err
			}
			out = append(out, clauses...)
		}
		return out, nil
	}
	return nil, domain.UnsupportedField(fmt.Sprintf("%T", f))
}

var sourceExcludes = map[string]any{"excludes": []string{"embedding"}}

func knnBody(vector []float32, k int, filter domain.Filter) (map[string]any, error) {
	clauses, err := filterClauses(filter)
	if err != nil {
		return nil, err
	}

	knn := map[string]any{
		"knn": map[string]any{
			"embedding": map[string]any{
				"vector": vector,
				"k":      k,
			},
		},
	}

	query := knn
	if len(clauses) > 0 {
		query = map[string]any{
			"bool": map[string]any{
				"must":   []any{knn},
				"filter": clauses,
			},
		}
	}

	return map[string]any{
		"size":    k,
		"query":   query,
		"_source": sourceExcludes,
	}, nil
}

func termBody(q domain.Query) (map[string]any, error) {
	clauses, err := filterClauses(q.Filter)
	if err != nil {
		return nil, err
	}

	query := map[string]any{"match_all": map[string]any{}}
	if len(clauses) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": clauses}}
	}

	sort, err := sortBody(q.Sort)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query":   query,
		"sort":    sort,
		"_source": sourceExcludes,
	}
	if q.Size > 0 {
		body["size"] = q.Size
	}
	return body, nil
}

func sortBody(fields []domain.SortField) ([]any, error) {
	chunkOrder := map[string]any{
		"metadata.chunk_index": map[string]any{"order": "asc", "unmapped_type": "long"},
	}
	if len(fields) == 0 {
		return []any{map[string]any{"file_id": map[string]any{"order": "asc"}}, chunkOrder}, nil
	}

	out := make([]any, 0, len(fields)+1)
	for _, s := range fields {
		path, ok := fieldPath(s.Field)
		if !ok {
			return nil, domain.UnsupportedField(s.Field)
		}
		order := "asc"
		if s.Desc {
			order = "desc"
		}
		out = append(out, map[string]any{path: map[string]any{"order": order}})
	}
	return append(out, chunkOrder), nil
}

// IndexMapping is the index definition for chunk entries.
func IndexMapping(dimensions int) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"knn":                true,
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":       map[string]any{"type": "keyword"},
				"file_id":  map[string]any{"type": "keyword"},
				"filename": map[string]any{"type": "keyword"},
				"source":   map[string]any{"type": "keyword"},
				"text":     map[string]any{"type": "text"},
				"embedding": map[string]any{
					"type":      "knn_vector",
					"dimension": dimensions,
					"method": map[string]any{
						"name":       "hnsw",
						"engine":     "lucene",
						"space_type": "cosinesimil",
					},
				},
				"created_at": map[string]any{"type": "date"},
				"metadata":   map[string]any{"type": "object", "enabled": true},
			},
		},
	}
}
