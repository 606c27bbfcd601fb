package player_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/player"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

// tracked is a segment whose callbacks report on channels.
type tracked struct {
	seg     *audio.Segment
	started chan struct{}
	done    chan bool
}

// makeSegment creates a segment pre-loaded with the given chunks. The audio
// channel is closed after all chunks are written.
func makeSegment(id string, chunks ...string) *tracked {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- []byte(c)
	}
	close(ch)
	return track(&audio.Segment{ID: id, Audio: ch, Format: mono16k})
}

// makeOpenSegment creates a segment whose channel the caller controls.
func makeOpenSegment(id string) (*tracked, chan []byte) {
	ch := make(chan []byte, 16)
	return track(&audio.Segment{ID: id, Audio: ch, Format: mono16k}), ch
}

func track(seg *audio.Segment) *tracked {
	tr := &tracked{seg: seg, started: make(chan struct{}, 1), done: make(chan bool, 1)}
	seg.OnStart = func() { tr.started <- struct{}{} }
	seg.OnDone = func(interrupted bool) { tr.done <- interrupted }
	return tr
}

func waitDone(t *testing.T, tr *tracked) bool {
	t.Helper()
	select {
	case interrupted := <-tr.done:
		return interrupted
	case <-time.After(2 * time.Second):
		t.Fatalf("segment %s never finished", tr.seg.ID)
		return false
	}
}

func TestBasicPlayback(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	p := player.New(out, mono16k, player.WithPacing(0))
	defer p.Close()

	seg := makeSegment("s1", "he", "llo ", "world!")
	p.Enqueue(seg.seg)

	if waitDone(t, seg) {
		t.Error("segment reported interrupted")
	}
	select {
	case <-seg.started:
	default:
		t.Error("OnStart was not called")
	}
	if got := out.String(); got != "hello world!" {
		t.Errorf("output = %q, want %q", got, "hello world!")
	}
}

func TestFIFO(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	p := player.New(out, mono16k, player.WithPacing(0))
	defer p.Close()

	first := makeSegment("first", "11")
	second := makeSegment("second", "22")
	p.Enqueue(first.seg)
	p.Enqueue(second.seg)

	waitDone(t, first)
	waitDone(t, second)
	if got := out.String(); got != "1122" {
		t.Errorf("output = %q, want %q", got, "1122")
	}
}

func TestInterruptStopsCurrentAndDropsQueue(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	p := player.New(out, mono16k, player.WithPacing(0))
	defer p.Close()

	current, ch := makeOpenSegment("current")
	queued := makeSegment("queued", "zz")
	p.Enqueue(current.seg)
	ch <- []byte("aa")

	select {
	case <-current.started:
	case <-time.After(2 * time.Second):
		t.Fatal("current segment never started")
	}
	p.Enqueue(queued.seg)
	p.Interrupt()

	if !waitDone(t, current) {
		t.Error("current segment should report interrupted")
	}
	if !waitDone(t, queued) {
		t.Error("queued segment should report interrupted")
	}
	if p.Playing() {
		t.Error("player still playing after Interrupt")
	}
	if got := out.String(); got != "aa" {
		t.Errorf("output = %q, want %q", got, "aa")
	}
	close(ch)
}

func TestConvertsToOutputFormat(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	p := player.New(out, audio.Format{SampleRate: 16000, Channels: 2}, player.WithPacing(0))
	defer p.Close()

	seg := makeSegment("s1", "ab")
	p.Enqueue(seg.seg)
	waitDone(t, seg)

	if got := out.String(); got != "abab" {
		t.Errorf("output = %q, want %q", got, "abab")
	}
}

func TestPacingHoldsSegmentForItsDuration(t *testing.T) {
	t.Parallel()

	p := player.New(&syncBuffer{}, mono16k, player.WithPacing(time.Millisecond))
	defer p.Close()

	// 100ms of 16 kHz mono audio.
	seg := makeSegment("s1", string(make([]byte, 3200)))
	begin := time.Now()
	p.Enqueue(seg.seg)
	if waitDone(t, seg) {
		t.Error("segment reported interrupted")
	}
	if elapsed := time.Since(begin); elapsed < 90*time.Millisecond {
		t.Errorf("segment finished after %v, want at least ~100ms", elapsed)
	}
}

func TestWriteFailureEndsSegment(t *testing.T) {
	t.Parallel()

	p := player.New(failingWriter{}, mono16k, player.WithPacing(0))
	defer p.Close()

	seg := makeSegment("s1", "aa", "bb")
	p.Enqueue(seg.seg)
	if !waitDone(t, seg) {
		t.Error("segment should report interrupted after a write failure")
	}
}

func TestCloseDiscardsAndRejects(t *testing.T) {
	t.Parallel()

	p := player.New(&syncBuffer{}, mono16k, player.WithPacing(0))

	current, ch := makeOpenSegment("current")
	p.Enqueue(current.seg)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !waitDone(t, current) {
		t.Error("open segment should report interrupted on Close")
	}
	close(ch)

	late := makeSegment("late", "xx")
	p.Enqueue(late.seg)
	if !waitDone(t, late) {
		t.Error("segment enqueued after Close should report interrupted")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSegmentErr(t *testing.T) {
	seg := &audio.Segment{}
	if seg.Err() != nil {
		t.Fatal("fresh segment has an error")
	}
	want := errors.New("tts failed")
	seg.SetStreamErr(want)
	if !errors.Is(seg.Err(), want) {
		t.Errorf("Err() = %v, want %v", seg.Err(), want)
	}
}
