package relayworker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitName_PrefixAndUniqueness(t *testing.T) {
	a := unitName("netA")
	b := unitName("netA")
	assert.True(t, strings.HasPrefix(a, "networktools-netA-worker-"))
	assert.NotEqual(t, a, b)
}

func TestGostPath(t *testing.T) {
	m := New("netA", "/opt/networktools")
	assert.Equal(t, "/opt/networktools/bin/gost", m.gostPath())
}
