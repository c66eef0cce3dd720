// Package common defines shared constants and sentinel errors used across
// client and server layers of gophsync. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")

	// ErrStorageTransaction is matched by every *StorageError.
	ErrStorageTransaction = errors.New("storage transaction failed")

	// ErrLedgerCorrupt reports pending-change bookkeeping that cannot be
	// decoded. It is never repaired automatically.
	ErrLedgerCorrupt = errors.New("pending ledger corrupt")

	// ErrOffline is returned when the remote cannot be reached.
	ErrOffline = errors.New("offline")

	// ErrSyncConflict is matched by every *SyncConflictError.
	ErrSyncConflict = errors.New("sync conflict")

	// Service-level errors (generic/internal flow control).
	ErrInternal        = errors.New("internal error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// StorageError wraps a backend failure so callers never depend on the
// concrete driver error shape.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageTransaction }

// SyncConflictError carries the per-entity errors reported by the server.
type SyncConflictError struct {
	Type   string
	ID     int64
	Errors []string
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("sync conflict on %s/%d: %s", e.Type, e.ID, strings.Join(e.Errors, "; "))
}

func (e *SyncConflictError) Is(target error) bool { return target == ErrSyncConflict }
