package domain

import (
	"fmt"
	"time"
)

// Logical field names understood by every SearchIndex backend.
const (
	FieldFileID       = "file_id"
	FieldParishID     = "parish_id"
	FieldDocumentType = "document_type"
	FieldCreatedAt    = "created_at"
)

// Filter is a node of the small filter language shared by index backends.
// A nil Filter matches everything.
type Filter interface {
	isFilter()
}

// Term matches entries whose field equals Value exactly.
type Term struct {
	Field string
	Value string
}

// DateRange matches entries whose timestamp field lies in [From, To].
type DateRange struct {
	Field string
	From  time.Time
	To    time.Time
}

// And matches entries satisfying every clause.
type And []Filter

func (Term) isFilter()      {}
func (DateRange) isFilter() {}
func (And) isFilter()       {}

// Combine applies the filter policy: no clauses yields no filter, a single
// clause is used bare, several are conjoined.
func Combine(clauses ...Filter) Filter {
	kept := make([]Filter, 0, len(clauses))
	for _, c := range clauses {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And(kept)
	}
}

// EqualityFilter builds the term clauses for the optional parish and
// document type constraints.
func EqualityFilter(parishID, documentType string) []Filter {
	var clauses []Filter
	if parishID != "" {
		clauses = append(clauses, Term{Field: FieldParishID, Value: parishID})
	}
	if documentType != "" {
		clauses = append(clauses, Term{Field: FieldDocumentType, Value: documentType})
	}
	return clauses
}

// SortField orders term query results.
type SortField struct {
	Field string
	Desc  bool
}

// Query is a non-vector lookup against the index.
type Query struct {
	Filter Filter
	Size   int
	Sort   []SortField
}

// IsKnownField reports whether field is a logical field backends translate.
func IsKnownField(field string) bool {
	switch field {
	case FieldFileID, FieldParishID, FieldDocumentType, FieldCreatedAt:
		return true
	}
	return false
}

// UnsupportedField reports a filter or sort on a field no backend translates.
// The result matches ErrUnsupportedFilter under errors.Is.
func UnsupportedField(field string) error {
	return NewDomainErrorWithCause(ErrUnsupportedFilter.Code, ErrUnsupportedFilter.Message,
		fmt.Errorf("field %q", field))
}
