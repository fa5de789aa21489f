package service

import (
	"context"
	"errors"
	"strings"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/logging"
	"github.com/cloo-solutions/homilia/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// MaxEntriesPerFile caps the entry lookup of deletions and document
// lookups. Documents with more chunks are only partially covered.
const MaxEntriesPerFile = 1000

// DeleteResult reports a best-effort deletion. Found and deleted counts that
// differ mean the call may be repeated for the residual set.
type DeleteResult struct {
	FileID         string
	FoundChunks    int
	DeletedChunks  int
	FoundObjects   int
	DeletedObjects int
	Errors         []*domain.Failure
	Failure        *domain.Failure
}

// Success reports whether the lookup ran. Partial deletions still succeed.
func (r *DeleteResult) Success() bool {
	return r.Failure == nil
}

// Complete reports whether every found entry and object was removed.
func (r *DeleteResult) Complete() bool {
	return r.Success() && r.FoundChunks == r.DeletedChunks && r.FoundObjects == r.DeletedObjects
}

// DeletionService removes all index entries and backup objects of a file.
type DeletionService struct {
	index  SearchIndex
	store  ObjectStore
	logger logrus.FieldLogger
}

// NewDeletionService creates a new DeletionService. A nil store skips
// object deletion.
func NewDeletionService(index SearchIndex, store ObjectStore, logger logrus.FieldLogger) *DeletionService {
	return &DeletionService{
		index:  index,
		store:  store,
		logger: logging.Component(logger, "deletion"),
	}
}

// Delete removes every entry whose file_id matches and every distinct object
// those entries reference. An unknown file id is a successful no-op.
func (s *DeletionService) Delete(ctx context.Context, fileID string) *DeleteResult {
	ctx, span := telemetry.StartSpan(ctx, "DeletionService.Delete", telemetry.SpanAttributes{
		FileID:    fileID,
		Operation: "delete",
	})
	defer span.End()

	result := &DeleteResult{FileID: fileID}
	defer func() { span.SetFailure(result.Failure) }()
	log := s.logger.WithField("file_id", fileID)

	if strings.TrimSpace(fileID) == "" {
		result.Failure = domain.NewFailure(domain.StageValidate, domain.ErrMissingFileID)
		return result
	}

	hits, err := s.index.TermQuery(ctx, domain.Query{
		Filter: domain.Term{Field: domain.FieldFileID, Value: fileID},
		Size:   MaxEntriesPerFile,
	})
	if err != nil {
		result.Failure = domain.NewFailure(domain.StageLookup, err)
		log.WithError(err).Error("entry lookup failed")
		return result
	}
	if len(hits) == 0 {
		log.Debug("no entries found, nothing to delete")
		return result
	}

	var objectKeys []string
	seen := make(map[string]struct{})
	for _, hit := range hits {
		key := hit.Entry.Metadata.ObjectKey
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		objectKeys = append(objectKeys, key)
	}

	result.FoundChunks = len(hits)
	result.FoundObjects = len(objectKeys)

	for _, hit := range hits {
		err := s.index.DeleteByID(ctx, hit.ID)
		if err == nil || errors.Is(err, domain.ErrEntryNotFound) {
			result.DeletedChunks++
			continue
		}
		log.WithError(err).WithField("entry_id", hit.ID).Warn("entry delete failed")
		result.Errors = append(result.Errors, domain.NewFailure(domain.StageDelete, err))
	}

	if s.store != nil {
		for _, key := range objectKeys {
			err := s.store.Delete(ctx, key)
			if err == nil || errors.Is(err, domain.ErrObjectNotFound) {
				result.DeletedObjects++
				continue
			}
			log.WithError(err).WithField("object_key", key).Warn("object delete failed")
			result.Errors = append(result.Errors, domain.NewFailure(domain.StageDelete, err))
		}
	}

	// Deleted entries must disappear from the next lookup.
	if result.DeletedChunks > 0 {
		if err := s.index.Refresh(ctx); err != nil {
			log.WithError(err).Warn("index refresh after delete failed")
		}
	}

	log.WithFields(logrus.Fields{
		"found_chunks":    result.FoundChunks,
		"deleted_chunks":  result.DeletedChunks,
		"found_objects":   result.FoundObjects,
		"deleted_objects": result.DeletedObjects,
	}).Info("document deleted")

	return result
}
