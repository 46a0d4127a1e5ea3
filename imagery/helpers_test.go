package imagery

import (
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func solid(w, h int, c color.NRGBA) stdimage.Image {
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// testProvider counts fetches. Fetch blocks on gate when it is set.
type testProvider struct {
	name      string
	immediate bool
	gate      chan struct{}
	entered   chan struct{}
	err       error
	panics    bool

	calls atomic.Int64
}

func (p *testProvider) Name() string { return p.name }

func (p *testProvider) CanProvideImmediately() bool { return p.immediate }

func (p *testProvider) Fetch(ctx context.Context, _ any) (*Data, error) {
	n := p.calls.Add(1)
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.panics {
		panic("boom")
	}
	if p.err != nil {
		return nil, p.err
	}
	return &Data{Draw: solid(4, 4, color.NRGBA{R: uint8(n), A: 255})}, nil
}

var errProvider = errors.New("provider failed")

// pushProvider delivers Data to observers on demand.
type pushProvider struct {
	testProvider

	mu        sync.Mutex
	observers map[int]func(*Data)
	next      int
}

func (p *pushProvider) Observe(_ any, fn func(*Data)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observers == nil {
		p.observers = make(map[int]func(*Data))
	}
	id := p.next
	p.next++
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

func (p *pushProvider) push(d *Data) {
	p.mu.Lock()
	fns := make([]func(*Data), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(d)
	}
}

type countingObserver struct{ n atomic.Int64 }

func (o *countingObserver) ImageDataChanged(*Manager) { o.n.Add(1) }

var colorRed = color.NRGBA{R: 255, A: 255}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Error(msg)
			return
		}
		time.Sleep(time.Millisecond)
	}
}
