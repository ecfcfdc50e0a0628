package samio

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

// QueryMate fetches the primary mate of rec, or nil if the source holds
// none. rec must be paired and exactly one of first- and second-of-pair.
// Requires an index.
//
// The lookup runs on a private iteration over a second handle to the
// source, so it may be called while the reader's own iterator is open.
// Finding two candidate mates is an *AmbiguousMateError; an unpaired
// record sharing rec's name is a *FormatError under Strict stringency.
func (r *Reader) QueryMate(rec *sam.Record) (*sam.Record, error) {
	if rec.Flags&sam.Paired == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotPaired, rec.Name)
	}
	first := rec.Flags&sam.Read1 != 0
	if first == (rec.Flags&sam.Read2 != 0) {
		return nil, fmt.Errorf("%w: %s", ErrBadPairFlags, rec.Name)
	}
	if _, err := r.indexed(); err != nil {
		return nil, err
	}

	// A second reader on the same source keeps this lookup independent
	// of the caller's iteration.
	mr, err := Open(r.path, r.opts)
	if err != nil {
		return nil, err
	}
	defer mr.Close() // nolint: errcheck

	var it Iterator
	if rec.MateRef == nil {
		it, err = mr.QueryUnmapped()
	} else {
		it, err = mr.QueryAlignmentStart(rec.MateRef.ID(), rec.MatePos+1)
	}
	if err != nil {
		return nil, err
	}
	defer it.Close() // nolint: errcheck

	var mate *sam.Record
	for it.Scan() {
		next := it.Record()
		if next.Flags&sam.Paired == 0 {
			if next.Name == rec.Name && r.opts.Stringency == Strict {
				return nil, &FormatError{
					Message: fmt.Sprintf("paired and unpaired reads with same name %q", rec.Name),
				}
			}
			continue
		}
		// Only the opposite end of the pair can be the mate.
		if first {
			if next.Flags&sam.Read1 != 0 {
				continue
			}
		} else {
			if next.Flags&sam.Read2 != 0 {
				continue
			}
		}
		if next.Name != rec.Name {
			continue
		}
		if mate != nil {
			return nil, &AmbiguousMateError{Name: rec.Name}
		}
		mate = next
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return mate, nil
}
