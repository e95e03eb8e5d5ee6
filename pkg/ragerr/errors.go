// Package ragerr holds the error taxonomy shared by the ingestion and retrieval stages.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind identifies the pipeline stage an error belongs to.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindChunking   Kind = "chunking"
	KindEmbedding  Kind = "embedding"
	KindIndexing   Kind = "indexing"
	KindRetrieval  Kind = "retrieval"
	KindDelivery   Kind = "delivery"
)

// Stage sentinels, usable with errors.Is against any *Error of the same kind.
var (
	ErrExtraction = errors.New("extraction error")
	ErrChunking   = errors.New("chunking error")
	ErrEmbedding  = errors.New("embedding error")
	ErrIndexing   = errors.New("indexing error")
	ErrRetrieval  = errors.New("retrieval error")
	ErrDelivery   = errors.New("delivery error")
)

var sentinels = map[Kind]error{
	KindExtraction: ErrExtraction,
	KindChunking:   ErrChunking,
	KindEmbedding:  ErrEmbedding,
	KindIndexing:   ErrIndexing,
	KindRetrieval:  ErrRetrieval,
	KindDelivery:   ErrDelivery,
}

// Error is a stage-tagged error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// New wraps err with a kind and operation name. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the stage of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a failed unit of work should be re-attempted.
// Extraction and chunking failures are definitive; the rest are transient by nature.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindExtraction, KindChunking:
		return false
	default:
		return true
	}
}
