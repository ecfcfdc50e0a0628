// Package extsort sorts an unbounded stream of sam.Records under a
// bounded memory budget. Records accumulate in memory up to a limit;
// each time the limit is reached the buffer is sorted and spilled to a
// temporary disk run, and iteration k-way merges the runs. Small inputs
// that never spill are sorted and served straight from memory.
package extsort

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sort"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"

	"github.com/strandbio/samtk/samio"
)

// DefaultMaxInMemory is the default number of records held in memory
// before a sorted run is spilled to disk.
const DefaultMaxInMemory = 1 << 20

// LessFunc reports whether a sorts before b.
type LessFunc func(a, b *sam.Record) bool

// Options controls a Collection.
type Options struct {
	// MaxInMemory is the record budget. 0 means DefaultMaxInMemory;
	// anything else below 1 is an error.
	MaxInMemory int

	// TmpDir is the directory for run files. "" means the system
	// default.
	TmpDir string
}

// ErrFrozen is returned by Add after Iterate has been called.
var ErrFrozen = errors.E("extsort: collection is frozen, no records can be added after Iterate")

// Collection accepts records of unbounded count and produces one
// iterator over all of them in the order of the supplied comparator.
// Thread compatible. The typical sequence is New, Add..., Iterate,
// consume, Cleanup.
type Collection struct {
	header *sam.Header
	less   LessFunc
	opts   Options

	buf    []*sam.Record
	runs   []string // run file paths, in creation order
	frozen bool

	merge *mergeIterator // non-nil while a merge is open
	err   errors.Once    // sticky; any spill or merge failure poisons the collection
}

// New creates an empty Collection. header must contain every reference
// used by records added later; less defines the output order.
func New(header *sam.Header, less LessFunc, opts Options) (*Collection, error) {
	if opts.MaxInMemory == 0 {
		opts.MaxInMemory = DefaultMaxInMemory
	}
	if opts.MaxInMemory < 1 {
		return nil, fmt.Errorf("extsort: MaxInMemory must be >= 1, got %d", opts.MaxInMemory)
	}
	return &Collection{header: header, less: less, opts: opts}, nil
}

// Add appends a record. The collection takes ownership of rec. When the
// in-memory budget is reached the buffer is sorted and written out as
// one immutable run; Add performs no other disk I/O.
func (c *Collection) Add(rec *sam.Record) error {
	if c.frozen {
		return ErrFrozen
	}
	if err := c.err.Err(); err != nil {
		return err
	}
	c.buf = append(c.buf, rec)
	if len(c.buf) >= c.opts.MaxInMemory {
		return c.spill()
	}
	return nil
}

// spill sorts the buffer and writes it to a new run file.
func (c *Collection) spill() error {
	sort.SliceStable(c.buf, func(i, j int) bool { return c.less(c.buf[i], c.buf[j]) })
	f, err := ioutil.TempFile(c.opts.TmpDir, "extsort-run")
	if err != nil {
		c.err.Set(err)
		return err
	}
	// Record the path first so Cleanup removes it even on a partial
	// write.
	c.runs = append(c.runs, f.Name())
	if err := c.writeRun(f); err != nil {
		err = errors.E(err, "extsort: spill run", f.Name())
		c.err.Set(err)
		return err
	}
	vlog.VI(1).Infof("extsort: spilled run %d (%d records) to %v", len(c.runs)-1, len(c.buf), f.Name())
	c.buf = c.buf[:0]
	return nil
}

// Runs are plain headered BAM fragments so the codec does all the record
// serialization, and bgzf keeps them compressed on disk.
func (c *Collection) writeRun(f *os.File) error {
	w, err := bam.NewWriter(f, c.header, 1)
	if err != nil {
		f.Close() // nolint: errcheck
		return err
	}
	for _, rec := range c.buf {
		if err := w.Write(rec); err != nil {
			w.Close() // nolint: errcheck
			f.Close() // nolint: errcheck
			return err
		}
	}
	if err := w.Close(); err != nil {
		f.Close() // nolint: errcheck
		return err
	}
	return f.Close()
}

// Iterate finalizes the collection for reading and returns an iterator
// that yields every added record in comparator order. Add fails after
// Iterate. If nothing was ever spilled the records are served from
// memory with no disk I/O at all; otherwise the remaining buffer becomes
// one final run and all runs are merged. Ties between runs resolve in
// run-creation order, so the overall sort is stable.
//
// The iterator is invalidated by Cleanup and must not be read after it.
func (c *Collection) Iterate() (samio.Iterator, error) {
	c.frozen = true
	if err := c.err.Err(); err != nil {
		return nil, err
	}
	if len(c.runs) == 0 {
		sort.SliceStable(c.buf, func(i, j int) bool { return c.less(c.buf[i], c.buf[j]) })
		return &memIterator{recs: c.buf}, nil
	}
	if len(c.buf) > 0 {
		if err := c.spill(); err != nil {
			return nil, err
		}
	}

	vlog.VI(1).Infof("extsort: merging %d runs", len(c.runs))
	it := &mergeIterator{c: c}
	for seq, path := range c.runs {
		leaf, err := newRunLeaf(seq, path, c.less)
		if err != nil {
			it.closeLeafs()
			c.err.Set(err)
			return nil, err
		}
		if leaf != nil {
			it.tree.Insert(leaf)
			it.open = append(it.open, leaf)
		}
	}
	c.merge = it
	return it, nil
}

// Cleanup deletes all run storage. Idempotent. Any iterator obtained
// from Iterate becomes invalid.
func (c *Collection) Cleanup() error {
	if c.merge != nil {
		c.merge.closeLeafs()
		c.merge = nil
	}
	var firstErr error
	for _, path := range c.runs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	c.runs = nil
	c.buf = nil
	c.frozen = true
	return firstErr
}

// memIterator serves the never-spilled case.
type memIterator struct {
	recs []*sam.Record
	rec  *sam.Record
}

func (i *memIterator) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec, i.recs = i.recs[0], i.recs[1:]
	return true
}

func (i *memIterator) Record() *sam.Record { return i.rec }
func (i *memIterator) Err() error          { return nil }
func (i *memIterator) Close() error        { return nil }

// runLeaf is one run's cursor in the merge tree. Ties on the head record
// break by run creation order.
type runLeaf struct {
	seq  int
	f    *os.File
	r    *bam.Reader
	head *sam.Record
	less LessFunc
}

// newRunLeaf opens a run and positions it at its first record. A run
// with no records (possible only for an empty collection) yields nil.
func newRunLeaf(seq int, path string, less LessFunc) (*runLeaf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, "extsort: open run", path)
	}
	r, err := bam.NewReader(f, 1)
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, errors.E(err, "extsort: open run", path)
	}
	leaf := &runLeaf{seq: seq, f: f, r: r, less: less}
	ok, err := leaf.next()
	if err != nil {
		leaf.close() // nolint: errcheck
		return nil, err
	}
	if !ok {
		leaf.close() // nolint: errcheck
		return nil, nil
	}
	return leaf, nil
}

func (l *runLeaf) Compare(c llrb.Comparable) int {
	other := c.(*runLeaf)
	if l.less(l.head, other.head) {
		return -1
	}
	if l.less(other.head, l.head) {
		return 1
	}
	return l.seq - other.seq
}

func (l *runLeaf) next() (bool, error) {
	rec, err := l.r.Read()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, errors.E(err, "extsort: read run", l.f.Name())
	}
	l.head = rec
	return true, nil
}

func (l *runLeaf) close() error {
	err := l.r.Close()
	if e := l.f.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// mergeIterator k-way merges the run cursors kept in a search tree: the
// minimum leaf's head is yielded, the leaf advances and is reinserted,
// exhausted leafs drop out.
type mergeIterator struct {
	c    *Collection
	tree llrb.Tree
	open []*runLeaf

	rec    *sam.Record
	err    error
	closed bool
}

func (it *mergeIterator) Scan() bool {
	if it.err != nil || it.closed || it.tree.Len() == 0 {
		return false
	}
	top := it.tree.Min().(*runLeaf)
	it.rec = top.head
	it.tree.DeleteMin()
	ok, err := top.next()
	if err != nil {
		it.err = err
		it.c.err.Set(err)
		return false
	}
	if ok {
		it.tree.Insert(top)
	} else if e := top.close(); e != nil {
		it.err = e
		it.c.err.Set(e)
		return false
	}
	return true
}

func (it *mergeIterator) Record() *sam.Record { return it.rec }

func (it *mergeIterator) Err() error { return it.err }

func (it *mergeIterator) Close() error {
	it.closeLeafs()
	return it.err
}

// closeLeafs releases every still-open run cursor. Closing an in-progress
// merge early must still leave Cleanup able to remove all run storage.
func (it *mergeIterator) closeLeafs() {
	if it.closed {
		return
	}
	it.closed = true
	for _, leaf := range it.open {
		leaf.close() // nolint: errcheck
	}
	it.open = nil
	it.tree = llrb.Tree{}
}
