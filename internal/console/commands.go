package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/parley/internal/turn"
)

// ErrQuit is returned by [Reader.Run] when the human asks to leave.
var ErrQuit = errors.New("console: quit")

// Actions are the requests a human can make from the keyboard.
type Actions interface {
	// ToggleListening starts or stops voice input.
	ToggleListening()

	// Stop ends voice input and cuts the responder off.
	Stop()

	// SendText sends a typed message.
	SendText(text string)
}

// LoopActions posts every action onto a turn loop.
type LoopActions struct {
	Loop *turn.Loop
}

// ToggleListening implements [Actions].
func (a LoopActions) ToggleListening() {
	a.Loop.Do(func(m *turn.Machine) { m.ToggleListening() })
}

// Stop implements [Actions].
func (a LoopActions) Stop() {
	a.Loop.Do(func(m *turn.Machine) {
		m.StopListening()
		m.Interrupt()
	})
}

// SendText implements [Actions].
func (a LoopActions) SendText(text string) {
	a.Loop.Do(func(m *turn.Machine) { m.SendText(text) })
}

const help = `Commands:
  /listen   start or stop voice input
  /stop     stop voice input and interrupt the bot
  /auto     toggle listening automatically after the bot speaks
  /quit     leave
Anything else is sent as a typed message.`

// Reader reads commands line by line.
type Reader struct {
	in        io.Reader
	out       io.Writer
	actions   Actions
	presenter *Presenter
}

// NewReader creates a reader. Feedback for /help and unknown commands goes
// to out.
func NewReader(in io.Reader, out io.Writer, actions Actions, presenter *Presenter) *Reader {
	return &Reader{in: in, out: out, actions: actions, presenter: presenter}
}

// Run reads until the input ends, /quit is entered, or ctx is cancelled. It
// returns [ErrQuit] for /quit and nil otherwise.
func (r *Reader) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("console: read: %w", err)
					}
				default:
				}
				return nil
			}
			if err := r.handle(line); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) handle(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		r.actions.SendText(line)
		return nil
	}

	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/listen", "/l":
		r.actions.ToggleListening()
	case "/stop", "/s":
		r.actions.Stop()
	case "/auto":
		r.presenter.SetAutoListen(!r.presenter.AutoListen())
	case "/quit", "/q", "/exit":
		return ErrQuit
	case "/help", "/?":
		fmt.Fprintln(r.out, help)
	default:
		fmt.Fprintf(r.out, "unknown command %q, try /help\n", line)
	}
	return nil
}
