package runner

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// Errors recorded on failed scan results. ErrMalformedOutput wraps
// ErrScanFailed: bad output counts as a scanner error.
var (
	ErrScanFailed      = errors.New("scanner failed")
	ErrScanTimeout     = errors.New("scan timed out")
	ErrMalformedOutput = fmt.Errorf("%w: malformed output", ErrScanFailed)
)

// lookupTool resolves the path to an external tool binary.
var lookupTool = exec.LookPath

// maxStderr caps how much scanner stderr ends up in error messages.
const maxStderr = 2048

// runCommand executes a command and returns its stdout. On failure the error
// carries a trimmed copy of stderr.
func runCommand(cmd *exec.Cmd) ([]byte, error) {
	slog.Debug("running command", "cmd", cmd.String())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if msg == "" {
			return nil, fmt.Errorf("command failed: %w", err)
		}
		return nil, fmt.Errorf("command failed: %w: %s", err, msg)
	}

	slog.Debug("command finished", "bytes", len(output))
	return output, nil
}

// SplitArgs splits an extra-arguments string the way a shell would, so
// quoted values survive. The arguments themselves are not interpreted.
func SplitArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to split arguments %q: %w", raw, err)
	}
	return args, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName turns an image reference into a string usable as a file name.
func SafeName(image string) string {
	name := unsafeChars.ReplaceAllString(image, "_")
	if name == "" {
		return "image"
	}
	return name
}
