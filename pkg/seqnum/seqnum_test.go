package seqnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPrevious(t *testing.T) {
	assert.Equal(t, Number(6), Number(5).Next())
	assert.Equal(t, Number(4), Number(5).Previous())
}

func TestPreviousSaturatesAtMin(t *testing.T) {
	assert.Equal(t, Min, Min.Previous())
}

func TestInvertPreservesDescendingOrder(t *testing.T) {
	low, high := Number(10), Number(20)
	assert.Greater(t, low.Invert(), high.Invert(),
		"inverting must flip ascending numeric order to descending byte order")
}

func TestInvertIsSelfInverse(t *testing.T) {
	n := Number(123456789)
	assert.Equal(t, n, n.Invert().Invert())
}

func TestBigEndianRoundTrip(t *testing.T) {
	n := Number(0xDEADBEEF)
	buf := make([]byte, SerialisedLen)
	n.PutBigEndian(buf)
	assert.Equal(t, n, FromBigEndian(buf))
	assert.Equal(t, buf, n.Bytes())
}

func TestBigEndianByteOrderMatchesNumericOrder(t *testing.T) {
	a, b := Number(1), Number(2)
	assert.Less(t, string(a.Bytes()), string(b.Bytes()))
}
