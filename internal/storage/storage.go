// Package storage holds the object store backends used for document backups.
// Both backends map a missing key to domain.ErrObjectNotFound.
package storage
