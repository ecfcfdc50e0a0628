package main

/*
sam-view prints the records of a SAM or BAM file as SAM text. Regions
given as arguments or through a BED file restrict the output to the
matching records, using the file's index. Format regions as
<ref>:<1-based first pos>-<last pos>, <ref>:<1-based pos>, or just
<ref>.
*/

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"

	"github.com/strandbio/samtk/interval"
	"github.com/strandbio/samtk/samio"
)

var (
	regionsPath = flag.String("regions", "",
		"BED file (optionally gzipped) of regions to query, merged with any region arguments")
	oneBased = flag.Bool("one-based", false,
		"Treat -regions file coordinates as 1-based closed intervals instead of BED conventions")
	contained = flag.Bool("contained", false,
		"Print only records that lie entirely within a region")
	unmapped = flag.Bool("unmapped", false,
		"Print the unmapped records stored after the last mapped record")
	withHeader = flag.Bool("header", false, "Print the header before the records")
	assertSorted = flag.Bool("assert-sorted", false,
		"Fail on the first record that contradicts the header's declared sort order")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] input.{sam,bam} [region...]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := view(flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("sam-view: %v", err)
	}
}

// parseRegion resolves a region argument against the sequence
// dictionary. A bare reference name means the whole reference and a
// single position means that position only.
func parseRegion(arg string, header *sam.Header) (interval.QueryInterval, error) {
	name, span := arg, ""
	if i := strings.LastIndex(arg, ":"); i >= 0 {
		name, span = arg[:i], arg[i+1:]
	}
	var ref *sam.Reference
	for _, r := range header.Refs() {
		if r.Name() == name {
			ref = r
			break
		}
	}
	if ref == nil {
		return interval.QueryInterval{}, fmt.Errorf("region %q: unknown reference %q", arg, name)
	}
	q := interval.QueryInterval{RefID: ref.ID(), Start: 1, End: 0}
	if span == "" {
		return q, nil
	}
	parts := strings.SplitN(span, "-", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil || start < 1 {
		return interval.QueryInterval{}, fmt.Errorf("region %q: bad start position %q", arg, parts[0])
	}
	q.Start, q.End = start, start
	if len(parts) == 2 {
		end, err := strconv.Atoi(parts[1])
		if err != nil || end < start {
			return interval.QueryInterval{}, fmt.Errorf("region %q: bad end position %q", arg, parts[1])
		}
		q.End = end
	}
	return q, nil
}

func view(path string, regionArgs []string) error {
	r, err := samio.Open(path)
	if err != nil {
		return err
	}
	defer r.Close() // nolint: errcheck

	var intervals []interval.QueryInterval
	if *regionsPath != "" {
		intervals, err = interval.LoadRegionFile(*regionsPath, r.Header(),
			interval.RegionFileOpts{OneBased: *oneBased})
		if err != nil {
			return err
		}
	}
	for _, arg := range regionArgs {
		q, err := parseRegion(arg, r.Header())
		if err != nil {
			return err
		}
		intervals = append(intervals, q)
	}

	var it samio.Iterator
	switch {
	case *unmapped:
		if len(intervals) > 0 {
			return fmt.Errorf("-unmapped cannot be combined with regions")
		}
		it, err = r.QueryUnmapped()
	case len(intervals) > 0:
		it, err = r.Query(intervals, *contained)
	default:
		it, err = r.Iterate()
	}
	if err != nil {
		return err
	}
	if *assertSorted {
		it = samio.AssertSorted(it, r.Header().SortOrder)
	}

	out := bufio.NewWriter(os.Stdout)
	if *withHeader {
		b, err := r.Header().MarshalText()
		if err != nil {
			it.Close() // nolint: errcheck
			return err
		}
		out.Write(b) // nolint: errcheck
	}
	for it.Scan() {
		b, err := it.Record().MarshalText()
		if err != nil {
			it.Close() // nolint: errcheck
			return err
		}
		out.Write(b)       // nolint: errcheck
		out.WriteByte('\n') // nolint: errcheck
	}
	if err := it.Close(); err != nil {
		return err
	}
	return out.Flush()
}
