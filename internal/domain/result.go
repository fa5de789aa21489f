package domain

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step at which an operation failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageExtract  Stage = "extract"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageBackup   Stage = "backup"
	StageIndex    Stage = "index"
	StageRefresh  Stage = "refresh"
	StageLookup   Stage = "lookup"
	StageDelete   Stage = "delete"
	StageQuery    Stage = "query"
)

// Failure is the failure variant carried by every pipeline result.
// A result whose Failure is nil succeeded.
type Failure struct {
	Kind    string
	Stage   Stage
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Err.Error() != f.Message {
		return fmt.Sprintf("[%s] %s failed: %s: %v", f.Kind, f.Stage, f.Message, f.Err)
	}
	return fmt.Sprintf("[%s] %s failed: %s", f.Kind, f.Stage, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure classifies err at the given stage. Domain errors keep their code;
// anything else came from an external store and is reported as upstream.
func NewFailure(stage Stage, err error) *Failure {
	if err == nil {
		return nil
	}
	var existing *Failure
	if errors.As(err, &existing) {
		return existing
	}
	kind := ErrCodeUpstreamUnavailable
	message := err.Error()
	var de *DomainError
	if errors.As(err, &de) {
		kind = de.Code
		message = de.Message
	}
	return &Failure{
		Kind:    kind,
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

// IsInput reports whether the failure was a rejected input.
func (f *Failure) IsInput() bool {
	return f != nil && f.Kind == ErrCodeValidation
}

// IsNotFound reports whether the failure was an unknown identifier.
func (f *Failure) IsNotFound() bool {
	return f != nil && f.Kind == ErrCodeNotFound
}
