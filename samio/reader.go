package samio

import (
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

// FileType identifies the concrete representation of an opened source.
type FileType int

const (
	// Unknown is a sentinel.
	Unknown FileType = iota
	// SAM text. Sequential iteration only.
	SAM
	// BAM file. Queryable when an index is present.
	BAM
)

// Stringency controls how recoverable format inconsistencies are handled
// during mate lookup.
type Stringency int

const (
	// Strict surfaces inconsistencies as errors.
	Strict Stringency = iota
	// Silent skips records that a Strict reader would reject.
	Silent
)

// DefaultStringency is used when ReadOpts.Stringency is not set.
const DefaultStringency = Strict

// SpanIndex reports the byte ranges of a BAM file that may contain
// records overlapping a reference region. *bam.Index implements it.
type SpanIndex interface {
	Chunks(ref *sam.Reference, beg, end int) ([]bgzf.Chunk, error)
}

// ReadOpts defines options for Open.
type ReadOpts struct {
	// Index is the pathname of the BAM index. If "", Path + ".bai".
	Index string

	// SpanIndex overrides the on-disk index with a caller-provided span
	// lookup. Mainly for tests.
	SpanIndex SpanIndex

	// Stringency defaults to DefaultStringency.
	Stringency Stringency
}

type readerState int

const (
	idle readerState = iota
	iterating
)

// Reader presents uniform sequential and indexed iteration over one SAM
// or BAM source. Thread compatible; a Reader must not be shared between
// goroutines.
type Reader struct {
	path  string
	opts  ReadOpts
	typ   FileType
	src   source
	state readerState
}

// source is the closed set of representation variants behind a Reader.
type source interface {
	header() *sam.Header
	// rewind positions the source at its first record.
	rewind() error
	// read returns the next record, or io.EOF at the end of the stream.
	read() (*sam.Record, error)
	close() error
}

type bamSource struct {
	in    file.File
	r     *bam.Reader
	hdr   *sam.Header
	index SpanIndex // nil when the source has no index
	// Offset of the first record in the file.
	first bgzf.Offset
}

func (s *bamSource) header() *sam.Header { return s.hdr }

func (s *bamSource) rewind() error { return s.r.Seek(s.first) }

func (s *bamSource) read() (*sam.Record, error) { return s.r.Read() }

func (s *bamSource) seek(off bgzf.Offset) error { return s.r.Seek(off) }

// lastChunk reports the bgzf chunk of the most recently read record.
func (s *bamSource) lastChunk() bgzf.Chunk { return s.r.LastChunk() }

func (s *bamSource) close() error {
	err := s.r.Close()
	if e := s.in.Close(vcontext.Background()); e != nil && err == nil {
		err = e
	}
	return err
}

type samSource struct {
	in  file.File
	rs  io.ReadSeeker
	r   *sam.Reader
	hdr *sam.Header
}

func (s *samSource) header() *sam.Header { return s.hdr }

func (s *samSource) rewind() error {
	// The text reader has no record-level seek; re-parse from the top.
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, err := sam.NewReader(s.rs)
	if err != nil {
		return err
	}
	s.r = r
	return nil
}

func (s *samSource) read() (*sam.Record, error) { return s.r.Read() }

func (s *samSource) close() error { return s.in.Close(vcontext.Background()) }

func mergeOpts(optList []ReadOpts) ReadOpts {
	opts := ReadOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
		if o.SpanIndex != nil {
			opts.SpanIndex = o.SpanIndex
		}
		if o.Stringency != DefaultStringency {
			opts.Stringency = o.Stringency
		}
	}
	return opts
}

// Open classifies the source at path and returns a Reader for it. A
// source starting with the gzip magic is treated as BAM, anything else as
// SAM text; sources that parse as neither fail with
// ErrUnrecognizedFormat. For BAM, the index at opts.Index (default
// path+".bai") is loaded when present; without one the Reader is
// sequential-only.
func Open(path string, optList ...ReadOpts) (*Reader, error) {
	opts := mergeOpts(optList)
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	rs := in.Reader(ctx)

	var magic [2]byte
	if _, err := io.ReadFull(rs, magic[:]); err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, fmt.Errorf("%v: %w", path, ErrUnrecognizedFormat)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, err
	}

	if magic[0] == 0x1f && magic[1] == 0x8b {
		br, err := bam.NewReader(rs, 1)
		if err != nil {
			in.Close(ctx) // nolint: errcheck
			return nil, fmt.Errorf("%v: %w: %v", path, ErrUnrecognizedFormat, err)
		}
		src := &bamSource{
			in:    in,
			r:     br,
			hdr:   br.Header(),
			first: br.LastChunk().End,
		}
		if src.index, err = openIndex(path, opts); err != nil {
			src.close() // nolint: errcheck
			return nil, err
		}
		return &Reader{path: path, opts: opts, typ: BAM, src: src}, nil
	}

	sr, err := sam.NewReader(rs)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, fmt.Errorf("%v: %w: %v", path, ErrUnrecognizedFormat, err)
	}
	src := &samSource{in: in, rs: rs, r: sr, hdr: sr.Header()}
	return &Reader{path: path, opts: opts, typ: SAM, src: src}, nil
}

// openIndex loads the span index for a BAM source. A missing index file
// is not an error; it just leaves the source sequential-only.
func openIndex(path string, opts ReadOpts) (SpanIndex, error) {
	if opts.SpanIndex != nil {
		return opts.SpanIndex, nil
	}
	indexPath := opts.Index
	if indexPath == "" {
		indexPath = path + ".bai"
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, indexPath)
	if err != nil {
		return nil, nil
	}
	defer in.Close(ctx) // nolint: errcheck
	index, err := bam.ReadIndex(in.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, "read index", indexPath)
	}
	return index, nil
}

// Type returns the representation chosen at open time.
func (r *Reader) Type() FileType { return r.typ }

// Header returns the header of the source, including its declared sort
// order and sequence dictionary. The caller must not modify it.
func (r *Reader) Header() *sam.Header { return r.src.header() }

// HasIndex reports whether the query methods are available.
func (r *Reader) HasIndex() bool {
	bs, ok := r.src.(*bamSource)
	return ok && bs.index != nil
}

func (r *Reader) acquire() error {
	if r.state == iterating {
		return ErrBusy
	}
	r.state = iterating
	return nil
}

func (r *Reader) release() { r.state = idle }

// Iterate returns an iterator over every record in file order. Fails
// with ErrBusy while a previous iterator is open.
func (r *Reader) Iterate() (Iterator, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}
	if err := r.src.rewind(); err != nil {
		r.release()
		return nil, err
	}
	return &readIterator{r: r}, nil
}

// Close releases the reader. Any open iterator must be closed first.
func (r *Reader) Close() error {
	return r.src.close()
}

// readIterator is the sequential full-scan iterator.
type readIterator struct {
	r      *Reader
	rec    *sam.Record
	err    error
	closed bool
}

func (i *readIterator) Scan() bool {
	if i.err != nil || i.closed {
		return false
	}
	i.rec, i.err = i.r.src.read()
	return i.err == nil
}

func (i *readIterator) Record() *sam.Record { return i.rec }

func (i *readIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

func (i *readIterator) Close() error {
	if !i.closed {
		i.closed = true
		i.r.release()
	}
	return i.Err()
}
