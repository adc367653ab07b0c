package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates invalid settings, or index artifacts that
	// cannot be used with the current settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrCorruptState indicates the persisted index triple is internally
	// inconsistent or disagrees with the document store's chunk positions.
	ErrCorruptState = errors.New("corrupt index state")

	// ErrUpstream indicates an embedding or completion call failed.
	ErrUpstream = errors.New("upstream service error")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// ErrIndexNotLoaded is returned by queries issued before the index was loaded.
	ErrIndexNotLoaded = errors.New("index not loaded")

	ErrRefreshInProgress = errors.New("index is locked by another refresh")
)

// Stage names the step of an operation that talked to an upstream service.
type Stage string

const (
	StageEmbedding  Stage = "embedding"
	StageSearch     Stage = "search"
	StageCompletion Stage = "completion"
)

// UpstreamError wraps a failed outbound call with the stage it belonged to.
type UpstreamError struct {
	Stage Stage
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s stage: %v", ErrUpstream, e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is reports ErrUpstream so callers can match on the category.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Upstream wraps err for the given stage. A nil err and context
// cancellation or expiry are returned unwrapped.
func Upstream(stage Stage, err error) error {
	if err == nil || IsContextError(err) {
		return err
	}
	return &UpstreamError{Stage: stage, Err: err}
}

// IsContextError reports whether err comes from a cancelled or expired context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ConsistencyWarning reports that the document store holds fewer chunks than
// the index. It is surfaced to the operator and never repaired automatically.
type ConsistencyWarning struct {
	StoreChunks  int `json:"store_chunks"`
	IndexVectors int `json:"index_vectors"`
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("document store has fewer chunks than the index (store=%d, index=%d); consider a rebuild",
		w.StoreChunks, w.IndexVectors)
}
