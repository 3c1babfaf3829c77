// Package checkpoint implements the totally-ordered position in chain
// history that every indexed row and every processed event is tagged
// with.
package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// Checkpoint is a total order over (blockTimestamp, chainID, blockNumber,
// transactionIndex, logIndex). Values are immutable; there is exactly
// one Checkpoint per event processed.
type Checkpoint struct {
	blockTimestamp   uint64
	chainID          uint64
	blockNumber      uint64
	transactionIndex uint32
	logIndex         uint32
}

// New constructs a Checkpoint from its five ordering fields.
func New(blockTimestamp, chainID, blockNumber uint64, transactionIndex, logIndex uint32) Checkpoint {
	return Checkpoint{
		blockTimestamp:   blockTimestamp,
		chainID:          chainID,
		blockNumber:      blockNumber,
		transactionIndex: transactionIndex,
		logIndex:         logIndex,
	}
}

// Getters
func (c Checkpoint) BlockTimestamp() uint64   { return c.blockTimestamp }
func (c Checkpoint) ChainID() uint64          { return c.chainID }
func (c Checkpoint) BlockNumber() uint64      { return c.blockNumber }
func (c Checkpoint) TransactionIndex() uint32 { return c.transactionIndex }
func (c Checkpoint) LogIndex() uint32         { return c.logIndex }

// Latest is the sentinel encoded string: it sorts strictly greater than
// every encoded Checkpoint and stands for "currently valid / no upper
// bound yet".
const Latest = "latest"

// field widths are each wide enough for the full range of their Go
// type (20 digits covers all of uint64, 10 covers all of uint32) so a
// value can never overflow its field and silently break the fixed-width,
// lex-sortable guarantee. Total encoded length: 1 (tag) + 20*3 + 10*2 =
// 81 characters.
const (
	tsWidth  = 20
	idWidth  = 20
	bnWidth  = 20
	txWidth  = 10
	logWidth = 10

	// encodedTag prefixes every real encoding with a digit so it can
	// never collide with the Latest sentinel, which starts with the
	// non-digit 'l'.
	encodedTag = "0"
)

// Encode renders c as a fixed-width, lex-sortable string such that byte
// comparison of two encodings equals tuple comparison of the two
// Checkpoints. Encode is a pure function: identical input always
// produces identical output across processes.
func Encode(c Checkpoint) string {
	var b strings.Builder
	b.Grow(1 + tsWidth + idWidth + bnWidth + txWidth + logWidth)
	b.WriteString(encodedTag)
	fmt.Fprintf(&b, "%0*d", tsWidth, c.blockTimestamp)
	fmt.Fprintf(&b, "%0*d", idWidth, c.chainID)
	fmt.Fprintf(&b, "%0*d", bnWidth, c.blockNumber)
	fmt.Fprintf(&b, "%0*d", txWidth, c.transactionIndex)
	fmt.Fprintf(&b, "%0*d", logWidth, c.logIndex)
	return b.String()
}

// Decode inverts Encode. It returns an error if s is not a well-formed
// encoding (including the Latest sentinel, which has no tuple form).
func Decode(s string) (Checkpoint, error) {
	want := 1 + tsWidth + idWidth + bnWidth + txWidth + logWidth
	if len(s) != want || s == Latest {
		return Checkpoint{}, fmt.Errorf("checkpoint: malformed encoding %q", s)
	}
	if s[0:1] != encodedTag {
		return Checkpoint{}, fmt.Errorf("checkpoint: unexpected tag in %q", s)
	}
	off := 1
	ts, err := parseField(s, off, tsWidth)
	if err != nil {
		return Checkpoint{}, err
	}
	off += tsWidth
	chain, err := parseField(s, off, idWidth)
	if err != nil {
		return Checkpoint{}, err
	}
	off += idWidth
	bn, err := parseField(s, off, bnWidth)
	if err != nil {
		return Checkpoint{}, err
	}
	off += bnWidth
	tx, err := parseField(s, off, txWidth)
	if err != nil {
		return Checkpoint{}, err
	}
	off += txWidth
	lg, err := parseField(s, off, logWidth)
	if err != nil {
		return Checkpoint{}, err
	}

	return Checkpoint{
		blockTimestamp:   ts,
		chainID:          chain,
		blockNumber:      bn,
		transactionIndex: uint32(tx),
		logIndex:         uint32(lg),
	}, nil
}

func parseField(s string, off, width int) (uint64, error) {
	v, err := strconv.ParseUint(s[off:off+width], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: malformed field at offset %d: %w", off, err)
	}
	return v, nil
}

// Compare returns -1, 0, 1 as a is less than, equal to, or greater than
// b, treating Latest as +Infinity. Two Latest values are equal.
func Compare(a, b string) int {
	aLatest, bLatest := a == Latest, b == Latest
	switch {
	case aLatest && bLatest:
		return 0
	case aLatest:
		return 1
	case bLatest:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// Less reports whether a sorts strictly before b.
func Less(a, b string) bool { return Compare(a, b) < 0 }
