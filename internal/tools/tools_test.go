package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatToQuotation(t *testing.T) {
	q := FloatToQuotation(123.456, 0.01)
	assert.Equal(t, int64(123), q.Units)
	assert.Equal(t, int32(460000000), q.Nano)

	q = FloatToQuotation(10, 0.5)
	assert.Equal(t, int64(10), q.Units)
	assert.Equal(t, int32(0), q.Nano)
}

func TestRoundDown(t *testing.T) {
	assert.Equal(t, 0.012, RoundDown(0.01234, 0.001))
	assert.Equal(t, 3.0, RoundDown(3.99, 1))
	assert.Equal(t, 0.5, RoundDown(0.5, 0))
	assert.Equal(t, 0.0, RoundDown(-1, 0.1))
	assert.Equal(t, 0.0, RoundDown(0.0009, 0.001))
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 0.25, Fraction(1, 4))
	assert.Equal(t, 0.0, Fraction(1, 0))
}
