package pingagg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimmedMean_TenSamplesWithOutlier(t *testing.T) {
	samples := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}
	mean, ok := trimmedMean(samples)
	assert.True(t, ok)
	assert.Equal(t, 1.0, mean)
}

func TestTrimmedMean_FewSamplesFallsBackToArithmeticMean(t *testing.T) {
	mean, ok := trimmedMean([]float64{2, 4})
	assert.True(t, ok)
	assert.Equal(t, 3.0, mean)

	mean, ok = trimmedMean([]float64{5})
	assert.True(t, ok)
	assert.Equal(t, 5.0, mean)
}

func TestTrimmedMean_NoSamplesIsAbsent(t *testing.T) {
	_, ok := trimmedMean(nil)
	assert.False(t, ok)
}

func TestParsePingLine(t *testing.T) {
	ms, ok := parsePingLine("[1712345678.901234] 64 bytes from 10.0.0.2: icmp_seq=1 ttl=64 time=4.21 ms")
	assert.True(t, ok)
	assert.InDelta(t, 4.21, ms, 0.0001)

	_, ok = parsePingLine("PING 10.0.0.2 (10.0.0.2) 56(84) bytes of data.")
	assert.False(t, ok)
}
