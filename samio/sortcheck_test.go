package samio

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertSortedDetectsViolation(t *testing.T) {
	header := newTestHeader(t)
	chr1 := header.Refs()[0]
	recs := []*sam.Record{
		newTestRecord(t, "r1", chr1, 49, 0, nil, -1),
		newTestRecord(t, "r2", chr1, 9, 0, nil, -1),
	}

	it := AssertSorted(&sliceIter{recs: recs}, sam.Coordinate)
	require.True(t, it.Scan())
	assert.False(t, it.Scan())
	err := it.Err()
	require.Error(t, err)
	soErr, ok := err.(*SortOrderError)
	require.True(t, ok, "got %T", err)
	assert.Contains(t, soErr.Prior, "r1")
	assert.Contains(t, soErr.Current, "r2")
	assert.Equal(t, err, it.Close())
}

func TestAssertSortedPassesSortedStream(t *testing.T) {
	header := newTestHeader(t)
	chr1, chr2 := header.Refs()[0], header.Refs()[1]
	recs := []*sam.Record{
		newTestRecord(t, "r1", chr1, 9, 0, nil, -1),
		newTestRecord(t, "r2", chr1, 9, 0, nil, -1), // equal keys are fine
		newTestRecord(t, "r3", chr1, 49, 0, nil, -1),
		newTestRecord(t, "r4", chr2, 0, 0, nil, -1),
		newTestRecord(t, "r5", nil, -1, sam.Unmapped, nil, -1), // unmapped sorts last
	}
	it := AssertSorted(&sliceIter{recs: recs}, sam.Coordinate)
	n := 0
	for it.Scan() {
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 5, n)
}

func TestAssertSortedUnsortedIsPassthrough(t *testing.T) {
	in := &sliceIter{}
	assert.Equal(t, Iterator(in), AssertSorted(in, sam.Unsorted))
	assert.Equal(t, Iterator(in), AssertSorted(in, sam.UnknownOrder))
}

func TestCompareQueryNames(t *testing.T) {
	header := newTestHeader(t)
	chr1 := header.Refs()[0]
	r1 := newTestRecord(t, "q1", chr1, 9, sam.Paired|sam.Read1, chr1, 49)
	r2 := newTestRecord(t, "q1", chr1, 49, sam.Paired|sam.Read2, chr1, 9)
	sec := newTestRecord(t, "q1", chr1, 99, sam.Paired|sam.Read1|sam.Secondary, chr1, 49)

	assert.True(t, CompareQueryNames(r1, r2) < 0)
	assert.True(t, CompareQueryNames(r2, r1) > 0)
	assert.True(t, CompareQueryNames(r1, sec) < 0, "primary before secondary for the same end")
	assert.True(t, CompareQueryNames(r1, newTestRecord(t, "q2", chr1, 0, 0, nil, -1)) < 0)
	assert.Equal(t, 0, CompareQueryNames(r1, r1))
}
