package samio

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"

	"github.com/strandbio/samtk/interval"
)

// maxOffset sorts after every real bgzf offset.
var maxOffset = bgzf.Offset{File: math.MaxInt64, Block: math.MaxUint16}

func cmpOffset(a, b bgzf.Offset) int {
	switch {
	case a.File != b.File:
		if a.File < b.File {
			return -1
		}
		return 1
	case a.Block != b.Block:
		if a.Block < b.Block {
			return -1
		}
		return 1
	}
	return 0
}

// mergeChunks sorts spans by start offset and merges overlapping or
// adjacent ones, so each file region is scanned at most once even when
// several query intervals map to the same bins.
func mergeChunks(chunks []bgzf.Chunk) []bgzf.Chunk {
	if len(chunks) == 0 {
		return nil
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return cmpOffset(chunks[i].Begin, chunks[j].Begin) < 0
	})
	merged := chunks[:1]
	for _, c := range chunks[1:] {
		last := &merged[len(merged)-1]
		if cmpOffset(c.Begin, last.End) <= 0 {
			if cmpOffset(c.End, last.End) > 0 {
				last.End = c.End
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// spans asks the index for the byte ranges covering each optimized
// interval and merges them into one ascending, non-overlapping list.
func (s *bamSource) spans(optimized []interval.QueryInterval) ([]bgzf.Chunk, error) {
	refs := s.hdr.Refs()
	var chunks []bgzf.Chunk
	for _, q := range optimized {
		if q.RefID >= len(refs) {
			return nil, fmt.Errorf("samio: interval %v: no such reference in the sequence dictionary", q)
		}
		ref := refs[q.RefID]
		beg := q.Start - 1
		end := q.End
		if end == 0 || end > ref.Len() {
			end = ref.Len()
		}
		c, err := s.index.Chunks(ref, beg, end)
		if err == index.ErrInvalid {
			// No records on this reference.
			continue
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c...)
	}
	return mergeChunks(chunks), nil
}

// unmappedOffset finds a file offset at or before the start of the
// reserved region of unmapped reads that follows the last mapped record.
// The result is conservative; the iterator filters out any mapped
// records read before the region starts.
func (s *bamSource) unmappedOffset() (bgzf.Offset, error) {
	last := s.first
	found := false
	for _, ref := range s.hdr.Refs() {
		chunks, err := s.index.Chunks(ref, 0, ref.Len())
		if err == index.ErrInvalid {
			continue
		}
		if err != nil {
			return last, err
		}
		if len(chunks) == 0 {
			continue
		}
		found = true
		if end := chunks[len(chunks)-1].End; cmpOffset(end, last) > 0 {
			last = end
		}
	}
	if !found {
		return s.first, nil
	}
	return last, nil
}

type queryMode int

const (
	// modeOverlap yields records overlapping any query interval.
	modeOverlap queryMode = iota
	// modeContained yields records fully contained in a query interval.
	modeContained
	// modeStartAt yields records whose alignment start equals the query
	// position exactly.
	modeStartAt
	// modeUnmapped yields only placeholder-free unmapped records.
	modeUnmapped
)

// indexed returns the source's indexed variant, or ErrNoIndex.
func (r *Reader) indexed() (*bamSource, error) {
	bs, ok := r.src.(*bamSource)
	if !ok || bs.index == nil {
		return nil, ErrNoIndex
	}
	return bs, nil
}

// Query returns an iterator over the records overlapping any of the
// given intervals, in file order. With contained set, only records that
// lie entirely within an interval are yielded. Requires an index.
//
// The intervals are optimized (sorted, merged) before span lookup, and
// each span is scanned once even when intervals share index bins.
// Records are re-tested against the original intervals because span
// lookup over-approximates.
func (r *Reader) Query(intervals []interval.QueryInterval, contained bool) (Iterator, error) {
	bs, err := r.indexed()
	if err != nil {
		return nil, err
	}
	optimized, err := interval.Optimize(intervals)
	if err != nil {
		return nil, err
	}
	mode := modeOverlap
	if contained {
		mode = modeContained
	}
	return r.startQuery(bs, optimized, intervals, mode, -1, -1)
}

// QueryUnmapped returns an iterator over the unmapped records stored
// after the last mapped record. Requires an index.
func (r *Reader) QueryUnmapped() (Iterator, error) {
	bs, err := r.indexed()
	if err != nil {
		return nil, err
	}
	if err := r.acquire(); err != nil {
		return nil, err
	}
	off, err := bs.unmappedOffset()
	if err != nil {
		r.release()
		return nil, err
	}
	it := &queryIterator{
		r:       r,
		src:     bs,
		chunks:  []bgzf.Chunk{{Begin: off, End: maxOffset}},
		mode:    modeUnmapped,
		pending: true,
	}
	return it, nil
}

// QueryAlignmentStart returns an iterator over the records whose
// alignment starts exactly at the given 1-based position. Requires an
// index.
func (r *Reader) QueryAlignmentStart(refID, pos int) (Iterator, error) {
	bs, err := r.indexed()
	if err != nil {
		return nil, err
	}
	q := []interval.QueryInterval{{RefID: refID, Start: pos, End: pos}}
	if _, err := interval.Optimize(q); err != nil {
		return nil, err
	}
	return r.startQuery(bs, q, q, modeStartAt, refID, pos)
}

func (r *Reader) startQuery(bs *bamSource, optimized, original []interval.QueryInterval,
	mode queryMode, startRefID, startPos int) (Iterator, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}
	chunks, err := bs.spans(optimized)
	if err != nil {
		r.release()
		return nil, err
	}
	return &queryIterator{
		r:          r,
		src:        bs,
		chunks:     chunks,
		intervals:  original,
		mode:       mode,
		startRefID: startRefID,
		startPos:   startPos,
		pending:    true,
	}, nil
}

// queryIterator streams record decode over an ascending span list,
// yielding only the records that pass the query's own filter.
type queryIterator struct {
	r   *Reader // nil for a private iteration that does not gate the reader
	src *bamSource

	chunks  []bgzf.Chunk
	idx     int
	pending bool // seek to chunks[idx].Begin before the next read

	intervals            []interval.QueryInterval
	mode                 queryMode
	startRefID, startPos int

	rec    *sam.Record
	err    error
	closed bool
}

func (i *queryIterator) Scan() bool {
	if i.err != nil || i.closed {
		return false
	}
	for {
		if i.idx >= len(i.chunks) {
			i.err = io.EOF
			return false
		}
		if i.pending {
			if i.err = i.src.seek(i.chunks[i.idx].Begin); i.err != nil {
				return false
			}
			i.pending = false
		}
		rec, err := i.src.read()
		if err != nil {
			i.err = err
			return false
		}
		// A record at or past the end of the current span belongs to the
		// next one, if any.
		if cmpOffset(i.src.lastChunk().Begin, i.chunks[i.idx].End) >= 0 {
			i.idx++
			i.pending = true
			continue
		}
		if i.match(rec) {
			i.rec = rec
			return true
		}
	}
}

func (i *queryIterator) match(rec *sam.Record) bool {
	if i.mode == modeUnmapped {
		return rec.Ref == nil
	}
	if rec.Ref == nil {
		return false
	}
	start := rec.Pos + 1 // 1-based
	end := rec.End()     // 0-based exclusive == 1-based inclusive
	if end < start {
		end = start
	}
	switch i.mode {
	case modeStartAt:
		return rec.Ref.ID() == i.startRefID && start == i.startPos
	case modeContained:
		for _, q := range i.intervals {
			if q.RefID == rec.Ref.ID() && q.ContainsRange(start, end) {
				return true
			}
		}
	default:
		for _, q := range i.intervals {
			if q.RefID == rec.Ref.ID() && q.OverlapsRange(start, end) {
				return true
			}
		}
	}
	return false
}

func (i *queryIterator) Record() *sam.Record { return i.rec }

func (i *queryIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

func (i *queryIterator) Close() error {
	if !i.closed {
		i.closed = true
		if i.r != nil {
			i.r.release()
		}
	}
	return i.Err()
}
