package samio

import (
	"errors"
	"fmt"

	"github.com/grailbio/hts/sam"
)

var (
	// ErrUnrecognizedFormat is returned by Open when the source is
	// neither SAM text nor BAM.
	ErrUnrecognizedFormat = errors.New("samio: unrecognized file format")

	// ErrBusy is returned when an iteration is requested while a
	// previous iterator from the same Reader is still open.
	ErrBusy = errors.New("samio: reader already has an open iterator")

	// ErrNoIndex is returned by the query methods when the source has no
	// index.
	ErrNoIndex = errors.New("samio: source is not indexed, cannot query")

	// ErrNotPaired is returned by QueryMate for an unpaired record.
	ErrNotPaired = errors.New("samio: record is not paired")

	// ErrBadPairFlags is returned by QueryMate when a record is not
	// exactly one of first-of-pair and second-of-pair.
	ErrBadPairFlags = errors.New("samio: record must be either first or second of pair, not both or neither")
)

// SortOrderError reports two adjacent records that violate a declared
// sort order. It is produced only by iterators wrapped with AssertSorted.
type SortOrderError struct {
	Order          sam.SortOrder
	Prior, Current string
}

func (e *SortOrderError) Error() string {
	return fmt.Sprintf("samio: records out of %v order: %s should come after %s",
		e.Order, e.Prior, e.Current)
}

// AmbiguousMateError reports a mate lookup that matched more than one
// record.
type AmbiguousMateError struct {
	Name string
}

func (e *AmbiguousMateError) Error() string {
	return fmt.Sprintf("samio: multiple records with name %q match the sought mate", e.Name)
}

// FormatError reports a consistency problem in the source, such as paired
// and unpaired reads sharing a name.
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return "samio: " + e.Message
}
