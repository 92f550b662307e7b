package procbox

import (
	"io"
	"strings"
	"sync"
)

// logHub fans one stream out to any number of subscribers. Each
// subscriber must read or Close its stream; a stalled subscriber stalls
// the others.
type logHub struct {
	src io.Reader

	mu      sync.Mutex
	subs    []*io.PipeWriter
	started bool
	done    bool
}

func newLogHub(src io.Reader) *logHub {
	return &logHub{src: src}
}

func (h *logHub) subscribe() io.ReadCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return endedStream()
	}
	r, w := io.Pipe()
	h.subs = append(h.subs, w)
	if !h.started {
		h.started = true
		go h.pump()
	}
	return r
}

func (h *logHub) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := h.src.Read(buf)
		if n > 0 {
			h.mu.Lock()
			subs := append([]*io.PipeWriter(nil), h.subs...)
			h.mu.Unlock()
			for _, w := range subs {
				if _, werr := w.Write(buf[:n]); werr != nil {
					h.drop(w)
				}
			}
		}
		if err != nil {
			break
		}
	}

	h.mu.Lock()
	h.done = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()
	for _, w := range subs {
		_ = w.Close()
	}
}

func (h *logHub) drop(w *io.PipeWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub == w {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

func endedStream() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

// logStream returns a new subscriber to the child's stderr. Without a
// piped stderr the stream is already ended.
func (p *Process) logStream() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return endedStream()
	}
	if p.stderr == nil {
		src := p.handle.Stderr()
		if src == nil {
			return endedStream()
		}
		p.stderr = newLogHub(src)
	}
	return p.stderr.subscribe()
}
