package samio

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
)

var (
	testSeq  = []byte("ACGTACGTAC")
	testQual = []byte{30, 30, 30, 30, 30, 30, 30, 30, 30, 30}
)

// newTestRecord builds a record with a full-match cigar when mapped.
// pos and matePos are 0-based, -1 for unmapped ends.
func newTestRecord(t *testing.T, name string, ref *sam.Reference, pos int,
	flags sam.Flags, mateRef *sam.Reference, matePos int) *sam.Record {
	var cigar sam.Cigar
	if ref != nil {
		cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, len(testSeq))}
	}
	rec, err := sam.NewRecord(name, ref, mateRef, pos, matePos, 0, 30, cigar, testSeq, testQual, nil)
	require.NoError(t, err)
	rec.Flags = flags
	return rec
}

func newTestHeader(t *testing.T) *sam.Header {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 2000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)
	return header
}

// writeTestBAM writes the records as a BAM file and returns its path and
// the offset of its first record.
func writeTestBAM(t *testing.T, dir string, header *sam.Header, recs []*sam.Record) (string, bgzf.Offset) {
	path := filepath.Join(dir, "test.bam")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(f, header, 1)
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	in, err := os.Open(path)
	require.NoError(t, err)
	r, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	first := r.LastChunk().End
	require.NoError(t, r.Close())
	require.NoError(t, in.Close())
	return path, first
}

func writeTestSAM(t *testing.T, dir, content string) string {
	path := filepath.Join(dir, "test.sam")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

// wholeFileIndex reports a single span covering every record in the file
// for any region, forcing queries to rely on record-level filtering.
type wholeFileIndex struct {
	first bgzf.Offset
}

func (ix wholeFileIndex) Chunks(ref *sam.Reference, beg, end int) ([]bgzf.Chunk, error) {
	return []bgzf.Chunk{{Begin: ix.first, End: maxOffset}}, nil
}

// emptyIndex reports no spans for any reference.
type emptyIndex struct{}

func (emptyIndex) Chunks(ref *sam.Reference, beg, end int) ([]bgzf.Chunk, error) {
	return nil, index.ErrInvalid
}

// sliceIter serves records from memory.
type sliceIter struct {
	recs []*sam.Record
	rec  *sam.Record
}

func (i *sliceIter) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec, i.recs = i.recs[0], i.recs[1:]
	return true
}

func (i *sliceIter) Record() *sam.Record { return i.rec }
func (i *sliceIter) Err() error          { return nil }
func (i *sliceIter) Close() error        { return nil }

func collectNames(t *testing.T, it Iterator) []string {
	names := []string{}
	for it.Scan() {
		names = append(names, it.Record().Name)
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	return names
}

func tempDir(t *testing.T) (string, func()) {
	return testutil.TempDir(t, "", "samio-test")
}
