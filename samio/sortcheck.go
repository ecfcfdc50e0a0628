package samio

import (
	"fmt"
	"strings"

	"github.com/grailbio/hts/sam"
)

// refID returns the record's reference index, with unmapped records
// placed after every reference, matching BAM coordinate order.
func refID(rec *sam.Record) int {
	if rec.Ref == nil {
		return int(^uint32(0) >> 1)
	}
	return rec.Ref.ID()
}

// CompareCoordinates orders records by (reference index, alignment
// position), with unmapped records last.
func CompareCoordinates(a, b *sam.Record) int {
	if c := refID(a) - refID(b); c != 0 {
		return c
	}
	return a.Pos - b.Pos
}

// CompareQueryNames orders records by read name so that mates become
// adjacent: name, then first-of-pair before second, then primaries
// before secondary and supplementary records.
func CompareQueryNames(a, b *sam.Record) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := pairRank(a) - pairRank(b); c != 0 {
		return c
	}
	return secondaryRank(a) - secondaryRank(b)
}

func pairRank(rec *sam.Record) int {
	switch {
	case rec.Flags&sam.Read1 != 0:
		return 0
	case rec.Flags&sam.Read2 != 0:
		return 1
	}
	return 2
}

func secondaryRank(rec *sam.Record) int {
	rank := 0
	if rec.Flags&sam.Secondary != 0 {
		rank |= 1
	}
	if rec.Flags&sam.Supplementary != 0 {
		rank |= 2
	}
	return rank
}

// comparatorFor maps a declared sort order to its comparator. Orders
// that define no total order (unsorted, unknown) return nil.
func comparatorFor(order sam.SortOrder) func(a, b *sam.Record) int {
	switch order {
	case sam.Coordinate:
		return CompareCoordinates
	case sam.QueryName:
		return CompareQueryNames
	}
	return nil
}

func recordIdent(rec *sam.Record) string {
	refName := "*"
	if rec.Ref != nil {
		refName = rec.Ref.Name()
	}
	return fmt.Sprintf("%s (%s:%d)", rec.Name, refName, rec.Pos+1)
}

// AssertSorted wraps iter with a lazy check that consecutive records
// respect the given sort order. The first violation surfaces as a
// *SortOrderError from Err and stops iteration. Orders without a
// comparator (unsorted, unknown) disable checking and return iter
// unchanged. Ordinary iteration never validates; this wrapper is the
// only place order checking happens.
func AssertSorted(iter Iterator, order sam.SortOrder) Iterator {
	cmp := comparatorFor(order)
	if cmp == nil {
		return iter
	}
	return &sortedIterator{in: iter, order: order, cmp: cmp}
}

type sortedIterator struct {
	in    Iterator
	order sam.SortOrder
	cmp   func(a, b *sam.Record) int
	prior *sam.Record
	err   error
}

func (i *sortedIterator) Scan() bool {
	if i.err != nil {
		return false
	}
	if !i.in.Scan() {
		return false
	}
	cur := i.in.Record()
	if i.prior != nil && i.cmp(i.prior, cur) > 0 {
		i.err = &SortOrderError{
			Order:   i.order,
			Prior:   recordIdent(i.prior),
			Current: recordIdent(cur),
		}
		return false
	}
	i.prior = cur
	return true
}

func (i *sortedIterator) Record() *sam.Record { return i.in.Record() }

func (i *sortedIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.in.Err()
}

func (i *sortedIterator) Close() error {
	err := i.in.Close()
	if i.err != nil {
		return i.err
	}
	return err
}
