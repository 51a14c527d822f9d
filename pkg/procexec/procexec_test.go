package procexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNsWrap_PrependsWhenNonEmpty(t *testing.T) {
	got := NsWrap("netA", []string{"ip", "link", "show"})
	assert.Equal(t, []string{"ip", "netns", "exec", "netA", "ip", "link", "show"}, got)
}

func TestNsWrap_PassthroughWhenEmpty(t *testing.T) {
	got := NsWrap("", []string{"ip", "link", "show"})
	assert.Equal(t, []string{"ip", "link", "show"}, got)
}

func TestRun_EmptyArgv(t *testing.T) {
	_, err := Run(nil, nil)
	assert.Error(t, err)
}

func TestRunChecked_NonZeroExit(t *testing.T) {
	_, err := RunChecked([]string{"false"}, nil)
	assert.Error(t, err)
	var perr *ProcessError
	assert.ErrorAs(t, err, &perr)
}

func TestRunChecked_Success(t *testing.T) {
	out, err := RunChecked([]string{"echo", "-n", "hello"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "hello", out)
}
