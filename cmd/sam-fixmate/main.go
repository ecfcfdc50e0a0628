package main

/*
sam-fixmate rewrites the mate fields of every primary read pair in a
SAM or BAM file from the pair's actual alignments, the way Picard's
FixMateInformation does. The input is grouped by read name first when
it is not already queryname sorted; the output is written queryname or
coordinate sorted. Without -output the input file is replaced in place.
*/

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"

	"github.com/strandbio/samtk/extsort"
	"github.com/strandbio/samtk/matepair"
	"github.com/strandbio/samtk/samio"
)

var (
	output = flag.String("output", "",
		"Output BAM path. Empty rewrites the input in place, keeping <input>.old until the rewrite succeeds")
	sortOrder = flag.String("sort-order", "",
		"Sort order of the output, 'queryname' or 'coordinate'. Empty keeps the input's order when it is one of those, otherwise queryname")
	maxRecords = flag.Int("max-records", extsort.DefaultMaxInMemory,
		"Number of records held in memory per sort pass before spilling to disk")
	tmpDir = flag.String("tmp-dir", "", "Directory for sort spill files (default os.TempDir())")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] input.{sam,bam}\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := fixMate(flag.Arg(0)); err != nil {
		log.Fatalf("sam-fixmate: %v", err)
	}
}

func outputOrder(in sam.SortOrder) (sam.SortOrder, error) {
	switch *sortOrder {
	case "":
		if in == sam.Coordinate || in == sam.QueryName {
			return in, nil
		}
		return sam.QueryName, nil
	case "queryname":
		return sam.QueryName, nil
	case "coordinate":
		return sam.Coordinate, nil
	}
	return sam.UnknownOrder, fmt.Errorf("unknown sort order %q", *sortOrder)
}

func fixMate(path string) error {
	r, err := samio.Open(path)
	if err != nil {
		return err
	}
	defer r.Close() // nolint: errcheck

	outOrder, err := outputOrder(r.Header().SortOrder)
	if err != nil {
		return err
	}
	sortOpts := extsort.Options{MaxInMemory: *maxRecords, TmpDir: *tmpDir}

	it, err := r.Iterate()
	if err != nil {
		return err
	}

	// The reconciler needs name-grouped input.
	if r.Header().SortOrder != sam.QueryName {
		log.Printf("sam-fixmate: input is %v sorted, grouping by name", r.Header().SortOrder)
		groups, err := extsort.New(r.Header(), func(a, b *sam.Record) bool {
			return samio.CompareQueryNames(a, b) < 0
		}, sortOpts)
		if err != nil {
			return err
		}
		defer groups.Cleanup() // nolint: errcheck
		if it, err = resort(groups, it); err != nil {
			return err
		}
	}

	fixed := samio.Iterator(matepair.NewReconciler(it))

	if outOrder == sam.Coordinate {
		final, err := extsort.New(r.Header(), func(a, b *sam.Record) bool {
			return samio.CompareCoordinates(a, b) < 0
		}, sortOpts)
		if err != nil {
			return err
		}
		defer final.Cleanup() // nolint: errcheck
		if fixed, err = resort(final, fixed); err != nil {
			return err
		}
	}

	header := r.Header().Clone()
	header.SortOrder = outOrder
	if *output != "" {
		return writeBAM(*output, header, fixed)
	}
	return rewriteInPlace(path, header, fixed)
}

// resort drains in into c and returns the sorted iteration.
func resort(c *extsort.Collection, in samio.Iterator) (samio.Iterator, error) {
	for in.Scan() {
		if err := c.Add(in.Record()); err != nil {
			in.Close() // nolint: errcheck
			return nil, err
		}
	}
	if err := in.Close(); err != nil {
		return nil, err
	}
	return c.Iterate()
}

func writeBAM(path string, header *sam.Header, in samio.Iterator) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w, err := bam.NewWriter(f, header, runtime.GOMAXPROCS(0))
	if err != nil {
		f.Close() // nolint: errcheck
		return err
	}
	n := 0
	for in.Scan() {
		if err := w.Write(in.Record()); err != nil {
			w.Close()  // nolint: errcheck
			f.Close()  // nolint: errcheck
			in.Close() // nolint: errcheck
			return err
		}
		n++
	}
	if err := in.Close(); err != nil {
		w.Close() // nolint: errcheck
		f.Close() // nolint: errcheck
		return err
	}
	if err := w.Close(); err != nil {
		f.Close() // nolint: errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("sam-fixmate: wrote %d records to %s", n, path)
	return nil
}

// rewriteInPlace writes the output next to the input and swaps it in
// only after the write fully succeeds. The original survives as
// <input>.old until the swap completes.
func rewriteInPlace(path string, header *sam.Header, in samio.Iterator) error {
	tmp := path + ".fixmate-tmp"
	if err := writeBAM(tmp, header, in); err != nil {
		os.Remove(tmp) // nolint: errcheck
		return err
	}
	backup := path + ".old"
	if err := os.Rename(path, backup); err != nil {
		os.Remove(tmp) // nolint: errcheck
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		if restoreErr := os.Rename(backup, path); restoreErr != nil {
			return fmt.Errorf("installing output: %v (restoring original: %v)", err, restoreErr)
		}
		os.Remove(tmp) // nolint: errcheck
		return err
	}
	return os.Remove(backup)
}
