package samio

import (
	"github.com/grailbio/hts/sam"
)

// Iterator iterates over sam.Records. Thread compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining in the
	// iterator, and if so, advances the iterator to the next record. If
	// an error occurs, Scan returns false and the error can be retrieved
	// by calling Err.
	Scan() bool

	// Record returns the current record. It must be called only after a
	// call to Scan returned true.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil. An
	// io.EOF is translated to nil.
	Err() error

	// Close releases the iterator's resources. It must be called exactly
	// once, and returns the value of Err.
	Close() error
}

type errorIterator struct {
	err error
}

func (i *errorIterator) Scan() bool          { return false }
func (i *errorIterator) Record() *sam.Record { panic("samio: Record called on error iterator") }
func (i *errorIterator) Err() error          { return i.err }
func (i *errorIterator) Close() error        { return i.err }

// NewErrorIterator creates an Iterator that yields no record and returns
// err from Err and Close.
func NewErrorIterator(err error) Iterator {
	return &errorIterator{err: err}
}
