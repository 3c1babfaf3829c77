package checkpoint_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexkit/indexcore/internal/domain/checkpoint"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []checkpoint.Checkpoint{
		checkpoint.New(0, 0, 0, 0, 0),
		checkpoint.New(1_700_000_000, 1, 18_000_000, 3, 7),
		checkpoint.New(^uint64(0), ^uint64(0), ^uint64(0), ^uint32(0), ^uint32(0)),
	}

	for _, c := range cases {
		encoded := checkpoint.Encode(c)
		decoded, err := checkpoint.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, c, decoded)
	}
}

func TestEncodeIsFixedWidth(t *testing.T) {
	a := checkpoint.Encode(checkpoint.New(1, 1, 1, 1, 1))
	b := checkpoint.Encode(checkpoint.New(1_700_000_000, 8453, 18_000_000, 12, 99))
	assert.Equal(t, len(a), len(b))
	assert.GreaterOrEqual(t, len(a), 58)
}

func TestCompareMatchesTupleOrder(t *testing.T) {
	lower := checkpoint.New(100, 1, 10, 0, 0)
	higher := checkpoint.New(100, 1, 10, 0, 1)

	el, eh := checkpoint.Encode(lower), checkpoint.Encode(higher)
	assert.Less(t, checkpoint.Compare(el, eh), 0)
	assert.True(t, checkpoint.Less(el, eh))
	assert.False(t, checkpoint.Less(eh, el))
}

func TestCompareOrdersByEachTupleFieldInPriority(t *testing.T) {
	// later timestamp always wins even if every other field is smaller
	earlyButLarger := checkpoint.New(100, 999, 999999, 999, 999)
	lateButSmaller := checkpoint.New(101, 0, 0, 0, 0)

	assert.True(t, checkpoint.Less(checkpoint.Encode(earlyButLarger), checkpoint.Encode(lateButSmaller)))
}

func TestLatestSortsAfterEveryEncodedValue(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		c := checkpoint.New(
			uint64(rng.Int63()),
			uint64(rng.Intn(1000)),
			uint64(rng.Int63()),
			uint32(rng.Intn(1000)),
			uint32(rng.Intn(1000)),
		)
		encoded := checkpoint.Encode(c)
		assert.True(t, checkpoint.Less(encoded, checkpoint.Latest))
		assert.False(t, checkpoint.Less(checkpoint.Latest, encoded))
	}
	assert.Equal(t, 0, checkpoint.Compare(checkpoint.Latest, checkpoint.Latest))
}

func TestDecodeRejectsSentinelAndGarbage(t *testing.T) {
	_, err := checkpoint.Decode(checkpoint.Latest)
	assert.Error(t, err)

	_, err = checkpoint.Decode("not-a-checkpoint")
	assert.Error(t, err)
}

func TestCompareIsConsistentWithEncodeOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	gen := func() checkpoint.Checkpoint {
		return checkpoint.New(
			uint64(rng.Intn(1000)),
			uint64(rng.Intn(5)),
			uint64(rng.Intn(1000)),
			uint32(rng.Intn(10)),
			uint32(rng.Intn(10)),
		)
	}

	for i := 0; i < 200; i++ {
		a, b := gen(), gen()
		tupleLess := tupleCompare(a, b) < 0
		encodedLess := checkpoint.Less(checkpoint.Encode(a), checkpoint.Encode(b))
		assert.Equal(t, tupleLess, encodedLess, "a=%+v b=%+v", a, b)
	}
}

// tupleCompare is the reference ordering spec.md defines: a plain
// lexicographic compare over the five fields in priority order.
func tupleCompare(a, b checkpoint.Checkpoint) int {
	switch {
	case a.BlockTimestamp() != b.BlockTimestamp():
		return cmp(a.BlockTimestamp(), b.BlockTimestamp())
	case a.ChainID() != b.ChainID():
		return cmp(a.ChainID(), b.ChainID())
	case a.BlockNumber() != b.BlockNumber():
		return cmp(a.BlockNumber(), b.BlockNumber())
	case a.TransactionIndex() != b.TransactionIndex():
		return cmp(uint64(a.TransactionIndex()), uint64(b.TransactionIndex()))
	default:
		return cmp(uint64(a.LogIndex()), uint64(b.LogIndex()))
	}
}

func cmp(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
