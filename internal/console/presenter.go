// Package console is the terminal front end of the client: a presenter that
// prints the conversation and a reader that turns typed lines into commands.
package console

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/internal/router"
	"github.com/MrWong99/parley/internal/turn"
)

// Presenter implements [turn.Presenter] on an io.Writer.
type Presenter struct {
	mu     sync.Mutex
	out    io.Writer
	status string
	draft  string

	auto atomic.Bool
}

// NewPresenter creates a presenter writing to out.
func NewPresenter(out io.Writer, autoListen bool) *Presenter {
	p := &Presenter{out: out}
	p.auto.Store(autoListen)
	return p
}

// SetStatus implements [turn.Presenter]. Repeated statuses are printed once
// and the empty status is not printed at all.
func (p *Presenter) SetStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == p.status {
		return
	}
	p.status = status
	if status != "" {
		fmt.Fprintf(p.out, "[%s]\n", status)
	}
}

// Status returns the last status set.
func (p *Presenter) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Show implements [turn.Presenter].
func (p *Presenter) Show(msg router.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draft = ""
	fmt.Fprintf(p.out, "%s: %s\n", speaker(msg.Kind), msg.Text)
}

func speaker(k router.Kind) string {
	switch k {
	case router.KindUser:
		return "You"
	case router.KindSystem:
		return "System"
	default:
		return "Bot"
	}
}

// Draft implements [turn.Presenter].
func (p *Presenter) Draft(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.draft {
		return
	}
	p.draft = text
	if text != "" {
		fmt.Fprintf(p.out, "  ... %s\n", text)
	}
}

// AutoListen implements [turn.Presenter].
func (p *Presenter) AutoListen() bool { return p.auto.Load() }

// SetAutoListen changes the auto-listen setting. The machine reads it at its
// next decision point.
func (p *Presenter) SetAutoListen(on bool) {
	if p.auto.Swap(on) == on {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(p.out, "[auto-listen %s]\n", state)
}

var _ turn.Presenter = (*Presenter)(nil)
