package samio

import (
	"testing"

	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandbio/samtk/interval"
)

// queryTestFile writes a BAM with mapped records on two references and
// unmapped records at the end, and opens it with the given span index.
func queryTestFile(t *testing.T, dir string, ix func(first bgzf.Offset) SpanIndex) *Reader {
	header := newTestHeader(t)
	chr1, chr2 := header.Refs()[0], header.Refs()[1]
	recs := []*sam.Record{
		newTestRecord(t, "a1", chr1, 9, 0, nil, -1),  // covers 10-19
		newTestRecord(t, "a2", chr1, 49, 0, nil, -1), // covers 50-59
		newTestRecord(t, "b1", chr2, 99, 0, nil, -1), // covers 100-109
		newTestRecord(t, "u1", nil, -1, sam.Unmapped, nil, -1),
		newTestRecord(t, "u2", nil, -1, sam.Unmapped, nil, -1),
	}
	path, first := writeTestBAM(t, dir, header, recs)
	r, err := Open(path, ReadOpts{SpanIndex: ix(first)})
	require.NoError(t, err)
	return r
}

func TestQueryOverlap(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	r := queryTestFile(t, dir, func(first bgzf.Offset) SpanIndex { return wholeFileIndex{first} })
	defer r.Close() // nolint: errcheck

	require.True(t, r.HasIndex())
	for _, tc := range []struct {
		name      string
		intervals []interval.QueryInterval
		contained bool
		want      []string
	}{
		{"overlap two", []interval.QueryInterval{{RefID: 0, Start: 15, End: 55}}, false, []string{"a1", "a2"}},
		{"overlap one position", []interval.QueryInterval{{RefID: 0, Start: 19, End: 19}}, false, []string{"a1"}},
		{"between records", []interval.QueryInterval{{RefID: 0, Start: 25, End: 45}}, false, []string{}},
		{"unbounded end", []interval.QueryInterval{{RefID: 0, Start: 40, End: 0}}, false, []string{"a2"}},
		{"second reference", []interval.QueryInterval{{RefID: 1, Start: 1, End: 0}}, false, []string{"b1"}},
		{"two intervals dedup one scan", []interval.QueryInterval{
			{RefID: 0, Start: 10, End: 12}, {RefID: 0, Start: 11, End: 60}}, false, []string{"a1", "a2"}},
		{"contained excludes straddlers", []interval.QueryInterval{{RefID: 0, Start: 15, End: 55}}, true, []string{}},
		{"contained", []interval.QueryInterval{{RefID: 0, Start: 5, End: 55}}, true, []string{"a1"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			it, err := r.Query(tc.intervals, tc.contained)
			require.NoError(t, err)
			assert.Equal(t, tc.want, collectNames(t, it))
		})
	}
}

func TestQueryInvalidInterval(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	r := queryTestFile(t, dir, func(first bgzf.Offset) SpanIndex { return wholeFileIndex{first} })
	defer r.Close() // nolint: errcheck

	_, err := r.Query([]interval.QueryInterval{{RefID: -1, Start: 1, End: 10}}, false)
	require.Error(t, err)
	_, ok := err.(*interval.InvalidIntervalError)
	assert.True(t, ok, "got %T", err)

	// A validation failure must not leave the reader busy.
	it, err := r.Iterate()
	require.NoError(t, err)
	require.NoError(t, it.Close())
}

func TestQueryAlignmentStart(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	r := queryTestFile(t, dir, func(first bgzf.Offset) SpanIndex { return wholeFileIndex{first} })
	defer r.Close() // nolint: errcheck

	it, err := r.QueryAlignmentStart(0, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, collectNames(t, it))

	// Overlapping is not enough; the start must match exactly.
	it, err = r.QueryAlignmentStart(0, 51)
	require.NoError(t, err)
	assert.Equal(t, []string{}, collectNames(t, it))
}

func TestQueryUnmapped(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	// With no spans recorded for any reference, the unmapped scan starts
	// at the first record and filters the mapped ones out.
	r := queryTestFile(t, dir, func(bgzf.Offset) SpanIndex { return emptyIndex{} })
	defer r.Close() // nolint: errcheck

	it, err := r.QueryUnmapped()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, collectNames(t, it))
}

func TestQueryNoSpans(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	r := queryTestFile(t, dir, func(bgzf.Offset) SpanIndex { return emptyIndex{} })
	defer r.Close() // nolint: errcheck

	it, err := r.Query([]interval.QueryInterval{{RefID: 0, Start: 1, End: 0}}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{}, collectNames(t, it))
}

func TestQueryGatesReader(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	r := queryTestFile(t, dir, func(first bgzf.Offset) SpanIndex { return wholeFileIndex{first} })
	defer r.Close() // nolint: errcheck

	it, err := r.Query([]interval.QueryInterval{{RefID: 0, Start: 1, End: 100}}, false)
	require.NoError(t, err)
	_, err = r.Iterate()
	assert.Equal(t, ErrBusy, err)
	_, err = r.QueryUnmapped()
	assert.Equal(t, ErrBusy, err)
	require.NoError(t, it.Close())
}

func TestMergeChunks(t *testing.T) {
	off := func(file int64) bgzf.Offset { return bgzf.Offset{File: file} }
	chunk := func(b, e int64) bgzf.Chunk { return bgzf.Chunk{Begin: off(b), End: off(e)} }

	got := mergeChunks([]bgzf.Chunk{chunk(100, 200), chunk(150, 300), chunk(300, 400), chunk(500, 600)})
	assert.Equal(t, []bgzf.Chunk{chunk(100, 400), chunk(500, 600)}, got)

	got = mergeChunks([]bgzf.Chunk{chunk(500, 600), chunk(100, 200)})
	assert.Equal(t, []bgzf.Chunk{chunk(100, 200), chunk(500, 600)}, got)

	assert.Nil(t, mergeChunks(nil))
}
