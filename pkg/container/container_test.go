package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindContainerID(t *testing.T) {
	ps := "abc123 netA-router\ndef456 netB-router\n"
	assert.Equal(t, "abc123", findContainerID(ps, "netA-router"))
	assert.Equal(t, "def456", findContainerID(ps, "netB-router"))
	assert.Equal(t, "", findContainerID(ps, "netC-router"))
}

func TestParseInspect(t *testing.T) {
	raw := `[{"Id":"abc123","State":{"Status":"running"},"HostConfig":{"Binds":["/tmp/networktools-netA/router:/data:ro"]}}]`
	info, err := parseInspect(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc123", info.ID)
	assert.Equal(t, "running", info.Status)
	assert.Equal(t, []string{"/tmp/networktools-netA/router:/data:ro"}, info.Binds)
}

func TestParseInspect_Empty(t *testing.T) {
	_, err := parseInspect(`[]`)
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "abc123", firstLine("abc123\n"))
	assert.Equal(t, "abc123", firstLine("abc123"))
}
