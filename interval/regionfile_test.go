package interval

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(t *testing.T) *sam.Header {
	chr1, err := sam.NewReference("chr1", "", "", 10000, nil, nil)
	require.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 20000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)
	return header
}

const testBED = `# comment
track name=test
chr1	9	30	feature0
chr2	99	200
chr1	49	60
`

func TestReadRegions(t *testing.T) {
	got, err := ReadRegions(strings.NewReader(testBED), testHeader(t), RegionFileOpts{})
	require.NoError(t, err)
	assert.Equal(t, []QueryInterval{
		{RefID: 0, Start: 10, End: 30},
		{RefID: 1, Start: 100, End: 200},
		{RefID: 0, Start: 50, End: 60},
	}, got)
}

func TestReadRegionsOneBased(t *testing.T) {
	got, err := ReadRegions(strings.NewReader("chr1\t10\t30\n"), testHeader(t), RegionFileOpts{OneBased: true})
	require.NoError(t, err)
	assert.Equal(t, []QueryInterval{{RefID: 0, Start: 10, End: 30}}, got)
}

func TestReadRegionsGzipped(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(testBED))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	got, err := ReadRegions(&buf, testHeader(t), RegionFileOpts{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, QueryInterval{RefID: 0, Start: 10, End: 30}, got[0])
}

func TestReadRegionsErrors(t *testing.T) {
	header := testHeader(t)
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"unknown reference", "chrMT\t1\t10\n"},
		{"missing columns", "chr1\t10\n"},
		{"bad start", "chr1\tx\t10\n"},
		{"empty interval", "chr1\t10\t10\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadRegions(strings.NewReader(tc.in), header, RegionFileOpts{})
			assert.Error(t, err)
		})
	}
}
