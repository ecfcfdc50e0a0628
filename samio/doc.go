// Package samio reads SAM and BAM sources through one uniform iteration
// and query interface. The concrete representation of a source (text
// stream vs. indexed binary file) is decided once when it is opened and
// never changes afterwards; indexed sources additionally support region
// queries, unmapped-read queries and mate lookup.
//
// A Reader allows at most one live iterator at a time. Iterate and the
// Query methods fail with ErrBusy until the previous iterator is closed.
// QueryMate is the exception: it runs on its own private iteration and
// can be called while the reader is busy.
package samio
