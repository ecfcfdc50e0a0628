package interval

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// RegionFileOpts defines behavior of LoadRegionFile.
type RegionFileOpts struct {
	// OneBased interprets the start and end columns as 1-based closed
	// positions instead of BED's 0-based half-open convention.
	OneBased bool
}

// LoadRegionFile reads a BED-style region file, optionally gzipped, and
// returns the corresponding query intervals resolved against the
// header's sequence dictionary. Only the first three columns are
// consulted. Comment, "track" and "browser" lines are skipped. The result
// is not optimized; pass it through Optimize before querying.
func LoadRegionFile(path string, header *sam.Header, opts RegionFileOpts) ([]QueryInterval, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	return ReadRegions(in.Reader(ctx), header, opts)
}

// ReadRegions is the reader-based variant of LoadRegionFile.
func ReadRegions(r io.Reader, header *sam.Header, opts RegionFileOpts) ([]QueryInterval, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.E(err, "regions: cannot open gzip stream")
		}
		defer gz.Close() // nolint: errcheck
		br = bufio.NewReader(gz)
	}

	refIDs := make(map[string]int, len(header.Refs()))
	for _, ref := range header.Refs() {
		refIDs[ref.Name()] = ref.ID()
	}

	var intervals []QueryInterval
	scanner := bufio.NewScanner(br)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("regions: line %d: expected at least 3 columns, got %d", lineno, len(fields))
		}
		refID, ok := refIDs[fields[0]]
		if !ok {
			return nil, fmt.Errorf("regions: line %d: unknown reference %q", lineno, fields[0])
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("regions: line %d: bad start %q", lineno, fields[1])
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("regions: line %d: bad end %q", lineno, fields[2])
		}
		if !opts.OneBased {
			start++ // 0-based half-open to 1-based closed
		}
		if end < start {
			return nil, fmt.Errorf("regions: line %d: empty interval %s:%d-%d", lineno, fields[0], start, end)
		}
		intervals = append(intervals, QueryInterval{RefID: refID, Start: start, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return intervals, nil
}
