// Package procexec is the process invoker: every other component shells out
// to the host's networking tools through this package rather than calling
// os/exec directly, so privilege escalation and namespace entry are applied
// uniformly and every child's argv, exit code and stderr land in the
// structured log. A child's stdout is returned to the caller and is not
// logged.
package procexec

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"networktools/pkg/agentlog"
)

// Result is the outcome of Run. It never carries a Go error for a
// non-zero exit; callers that need that treated as a failure use RunChecked.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ProcessError is returned by RunChecked when the child exits non-zero.
type ProcessError struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%v: exit %d: %s", e.Argv, e.ExitCode, e.Stderr)
}

var log = agentlog.WithComponent("procexec")

// Run executes argv[0] with argv[1:], optionally feeding stdin, and always
// returns a Result rather than an error for process-level failure; only a
// failure to even start the child (binary missing, fork failure) returns an
// error.
func Run(argv []string, stdin []byte) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("procexec: empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		res.ExitCode = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	} else {
		return Result{}, fmt.Errorf("procexec: start %v: %w", argv, err)
	}

	logResult(log, argv, res)
	return res, nil
}

// RunChecked runs argv and returns stdout, failing with a *ProcessError when
// the child exits non-zero.
func RunChecked(argv []string, stdin []byte) (string, error) {
	res, err := Run(argv, stdin)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &ProcessError{Argv: argv, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

func logResult(l zerolog.Logger, argv []string, res Result) {
	ev := l.Debug()
	if res.ExitCode != 0 {
		ev = l.Warn()
	}
	ev.Strs("argv", argv).Int("exit", res.ExitCode).Str("stderr", res.Stderr).Msg("child process exited")
}

// SudoWrap prepends "sudo" to argv iff the effective uid is non-zero.
func SudoWrap(argv []string) []string {
	if os.Geteuid() == 0 {
		return argv
	}
	return append([]string{"sudo"}, argv...)
}

// NsWrap prepends "ip netns exec <ns>" to argv iff ns is non-empty.
func NsWrap(ns string, argv []string) []string {
	if ns == "" {
		return argv
	}
	return append([]string{"ip", "netns", "exec", ns}, argv...)
}
