// Package matepair repairs mate-pair information on a record stream that
// is grouped by read name: for every primary pair it rewrites each end's
// mate fields from the other end's actual alignment, the way Picard's
// FixMateInformation does. Secondary and supplementary records pass
// through unchanged, as do orphan primaries.
package matepair

import (
	"fmt"

	"github.com/grailbio/hts/sam"

	"github.com/strandbio/samtk/samio"
)

// PairingError reports paired-read flags that contradict each other
// within one read name.
type PairingError struct {
	Name   string
	Reason string
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("matepair: read %q: %s", e.Name, e.Reason)
}

func secondaryOrSupplementary(rec *sam.Record) bool {
	return rec.Flags&(sam.Secondary|sam.Supplementary) != 0
}

// SetMateInfo rewrites the mate fields of r1 and r2 from each other's
// current alignment: mate reference and position, the mate-unmapped and
// mate-reverse flags, and the template length. The proper-pair flag is
// cleared when either end is unmapped and left alone otherwise. For a
// pair with both ends unmapped, any placeholder coordinates the records
// carry are copied across as mate coordinates; the template length is
// zeroed.
func SetMateInfo(r1, r2 *sam.Record) {
	setMateFields(r1, r2)
	setMateFields(r2, r1)

	bothMapped := r1.Flags&sam.Unmapped == 0 && r2.Flags&sam.Unmapped == 0
	if !bothMapped {
		r1.Flags &^= sam.ProperPair
		r2.Flags &^= sam.ProperPair
		r1.TempLen = 0
		r2.TempLen = 0
		return
	}
	if r1.Ref.ID() != r2.Ref.ID() {
		r1.TempLen = 0
		r2.TempLen = 0
		return
	}
	// Leftmost end gets the positive template length.
	left, right := r1, r2
	if r2.Pos < r1.Pos {
		left, right = r2, r1
	}
	tlen := right.End() - left.Pos
	left.TempLen = tlen
	right.TempLen = -tlen
}

func setMateFields(rec, partner *sam.Record) {
	rec.MateRef = partner.Ref
	rec.MatePos = partner.Pos
	if partner.Flags&sam.Unmapped != 0 {
		rec.Flags |= sam.MateUnmapped
	} else {
		rec.Flags &^= sam.MateUnmapped
	}
	if partner.Flags&sam.Reverse != 0 {
		rec.Flags |= sam.MateReverse
	} else {
		rec.Flags &^= sam.MateReverse
	}
}

// checkPairFlags verifies that r1 and r2 form a first/second pair.
func checkPairFlags(r1, r2 *sam.Record) error {
	if r1.Flags&sam.Paired == 0 || r2.Flags&sam.Paired == 0 {
		return &PairingError{Name: r1.Name, Reason: "records share a name but are not flagged as paired"}
	}
	oneOfPair := func(rec *sam.Record) (first bool, ok bool) {
		first = rec.Flags&sam.Read1 != 0
		return first, first != (rec.Flags&sam.Read2 != 0)
	}
	first1, ok1 := oneOfPair(r1)
	first2, ok2 := oneOfPair(r2)
	if !ok1 || !ok2 {
		return &PairingError{Name: r1.Name, Reason: "record is not exactly one of first and second of pair"}
	}
	if first1 == first2 {
		return &PairingError{Name: r1.Name, Reason: "both records are the same end of the pair"}
	}
	return nil
}

// Reconciler is an iterator adaptor over a name-grouped record stream.
// Pairs are emitted as adjacent units with reconciled mate fields;
// everything else keeps its input position. The reconciler never
// reorders; if the output is meant to have a different sort order the
// caller re-sorts downstream.
type Reconciler struct {
	in samio.Iterator

	lookahead     *sam.Record
	haveLookahead bool
	srcDone       bool

	queue []*sam.Record
	cur   *sam.Record
	err   error
}

// NewReconciler wraps in, which must yield records grouped by read name
// (for example a query-name-sorted stream).
func NewReconciler(in samio.Iterator) *Reconciler {
	return &Reconciler{in: in}
}

// next consumes one record from the stream, honoring the lookahead slot.
func (m *Reconciler) next() (*sam.Record, bool) {
	if m.haveLookahead {
		m.haveLookahead = false
		return m.lookahead, true
	}
	if m.srcDone {
		return nil, false
	}
	if !m.in.Scan() {
		m.srcDone = true
		m.err = m.in.Err()
		return nil, false
	}
	return m.in.Record(), true
}

// pushback returns an unconsumed record to the stream.
func (m *Reconciler) pushback(rec *sam.Record) {
	m.lookahead = rec
	m.haveLookahead = true
}

// fill queues the next batch of output records: either one secondary or
// supplementary record, or one primary together with any intervening
// non-primaries and, when the window holds its mate, the reconciled
// partner.
func (m *Reconciler) fill() {
	rec1, ok := m.next()
	if !ok {
		return
	}
	if secondaryOrSupplementary(rec1) {
		m.queue = append(m.queue, rec1)
		return
	}
	for {
		rec2, ok := m.next()
		if !ok {
			m.queue = append(m.queue, rec1) // orphan at end of stream
			return
		}
		if secondaryOrSupplementary(rec2) {
			m.queue = append(m.queue, rec2)
			continue
		}
		if rec2.Name == rec1.Name {
			if err := checkPairFlags(rec1, rec2); err != nil {
				m.err = err
				m.queue = nil
				return
			}
			SetMateInfo(rec1, rec2)
			m.queue = append(m.queue, rec1, rec2)
		} else {
			m.queue = append(m.queue, rec1)
			m.pushback(rec2)
		}
		return
	}
}

// Scan implements samio.Iterator.
func (m *Reconciler) Scan() bool {
	if m.err != nil {
		return false
	}
	if len(m.queue) == 0 {
		m.fill()
		if m.err != nil || len(m.queue) == 0 {
			return false
		}
	}
	m.cur, m.queue = m.queue[0], m.queue[1:]
	return true
}

// Record implements samio.Iterator.
func (m *Reconciler) Record() *sam.Record { return m.cur }

// Err implements samio.Iterator.
func (m *Reconciler) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.in.Err()
}

// Close implements samio.Iterator; it closes the wrapped stream.
func (m *Reconciler) Close() error {
	err := m.in.Close()
	if m.err != nil {
		return m.err
	}
	return err
}
