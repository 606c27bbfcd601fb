package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Device specs accepted by [OpenInput] and [OpenOutput].
const (
	// StdioDevice reads from stdin or writes to stdout.
	StdioDevice = "-"

	// DiscardDevice drops all output.
	DiscardDevice = "discard"

	// execPrefix runs the rest of the device string as a command, e.g.
	// "exec:arecord -q -t raw -f S16_LE -r 16000 -c 1".
	execPrefix = "exec:"
)

// OpenInput opens an audio source. dev is "-" for stdin, "exec:<command>"
// to read the stdout of a recorder process, or a file path. The command is
// split on whitespace and runs until the returned reader is closed or ctx is
// cancelled.
func OpenInput(ctx context.Context, dev string) (io.ReadCloser, error) {
	switch {
	case dev == StdioDevice:
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(dev, execPrefix):
		cmd, err := command(ctx, dev)
		if err != nil {
			return nil, err
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("audio: input pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("audio: start %q: %w", cmd.Path, err)
		}
		return &procReader{ReadCloser: out, cmd: cmd}, nil
	case dev == "":
		return nil, errors.New("audio: empty input device")
	default:
		f, err := os.Open(dev)
		if err != nil {
			return nil, fmt.Errorf("audio: open input: %w", err)
		}
		return f, nil
	}
}

// OpenOutput opens an audio sink. dev is "-" for stdout, "discard",
// "exec:<command>" to write to the stdin of a player process, or a file path
// that is created or truncated.
func OpenOutput(ctx context.Context, dev string) (io.WriteCloser, error) {
	switch {
	case dev == StdioDevice:
		return nopWriteCloser{os.Stdout}, nil
	case dev == DiscardDevice:
		return nopWriteCloser{io.Discard}, nil
	case strings.HasPrefix(dev, execPrefix):
		cmd, err := command(ctx, dev)
		if err != nil {
			return nil, err
		}
		in, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("audio: output pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("audio: start %q: %w", cmd.Path, err)
		}
		return &procWriter{WriteCloser: in, cmd: cmd}, nil
	case dev == "":
		return nil, errors.New("audio: empty output device")
	default:
		f, err := os.Create(dev)
		if err != nil {
			return nil, fmt.Errorf("audio: open output: %w", err)
		}
		return f, nil
	}
}

func command(ctx context.Context, dev string) (*exec.Cmd, error) {
	args := strings.Fields(strings.TrimPrefix(dev, execPrefix))
	if len(args) == 0 {
		return nil, fmt.Errorf("audio: no command in %q", dev)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// procReader closes the pipe and reaps the recorder process.
type procReader struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (r *procReader) Close() error {
	r.once.Do(func() {
		_ = r.ReadCloser.Close()
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		_ = r.cmd.Wait()
	})
	return nil
}

// procWriter closes stdin so the player drains its buffer, then reaps it.
type procWriter struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (w *procWriter) Close() error {
	err := w.WriteCloser.Close()
	if werr := w.cmd.Wait(); werr != nil && err == nil {
		var exitErr *exec.ExitError
		if !errors.As(werr, &exitErr) {
			err = werr
		}
	}
	return err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
