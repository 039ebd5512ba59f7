// Package compress runs the external glTF compressor over cleaned files.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Default compressor invocation: meshopt geometry plus KTX2 textures.
const (
	DefaultPath = "gltfpack"
	DefaultArgs = "-tc -cc"
)

// waitDelay bounds how long a cancelled compressor's children may keep stderr open.
const waitDelay = 2 * time.Second

// ErrNotFound is returned when the compressor binary cannot be located.
var ErrNotFound = errors.New("compressor not found")

// Compressor invokes `<path> -i <in> -o <out> <args...>`.
type Compressor struct {
	path string
	args []string
}

// New returns a compressor for the binary at path. args is a shell-style
// argument string such as `-tc -cc -si 0.5`.
func New(path, args string) (*Compressor, error) {
	if path == "" {
		path = DefaultPath
	}
	parsed, err := shellwords.Parse(args)
	if err != nil {
		return nil, fmt.Errorf("parsing compressor args %q: %w", args, err)
	}
	return &Compressor{path: path, args: parsed}, nil
}

// Path returns the configured binary.
func (c *Compressor) Path() string { return c.path }

// Args returns the extra arguments passed after the input and output.
func (c *Compressor) Args() []string { return c.args }

// Available reports whether the binary can be executed.
func (c *Compressor) Available() error {
	if _, err := exec.LookPath(c.path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, c.path, err)
	}
	return nil
}

// Compress compresses in into out, creating out's directory. A non-zero exit
// is an error carrying the compressor's stderr.
func (c *Compressor) Compress(ctx context.Context, in, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}

	argv := append([]string{"-i", in, "-o", out}, c.args...)
	cmd := exec.CommandContext(ctx, c.path, argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("compressing %s: %w", in, ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, c.path)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("compressing %s: %w", in, err)
		}
		return fmt.Errorf("compressing %s: %w: %s", in, err, msg)
	}
	return nil
}
