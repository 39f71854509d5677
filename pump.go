package redproc

import (
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// pumpChunkSize bounds a single read from a child output pipe. One chunk is
// at most in flight per stream, so the kernel pipe buffer keeps providing
// backpressure to the child.
const pumpChunkSize = 32768

// chunk is one read from a single child output stream.
type chunk struct {
	stream Stream
	data   []byte
	err    error
}

// pump multiplexes the child's stdout and stderr onto a single channel. One
// reader goroutine per stream performs blocking reads on the parent-side pipe
// end and hands each chunk over; the channel closes once every stream has hit
// end-of-stream. Closing a stream's file unblocks its reader.
type pump struct {
	log    *zap.SugaredLogger
	chunks chan chunk
	done   chan struct{}

	mu    sync.Mutex
	files map[Stream]*os.File

	wg sync.WaitGroup

	closeOnce sync.Once
}

// newPump starts reader goroutines for the given parent-side pipe ends.
// Either file may be nil when the corresponding stream was not piped; a pump
// with no files closes its chunk channel immediately.
func newPump(log *zap.SugaredLogger, stdout, stderr *os.File) *pump {
	p := &pump{
		log:    log,
		chunks: make(chan chunk),
		done:   make(chan struct{}),
		files:  make(map[Stream]*os.File),
	}
	if stdout != nil {
		p.files[Out] = stdout
	}
	if stderr != nil {
		p.files[Err] = stderr
	}
	for stream, f := range p.files {
		p.wg.Add(1)
		go p.read(stream, f)
	}
	go func() {
		p.wg.Wait()
		close(p.chunks)
	}()
	return p
}

func (p *pump) read(stream Stream, f *os.File) {
	defer p.wg.Done()
	for {
		buf := make([]byte, pumpChunkSize)
		n, err := f.Read(buf)
		if n > 0 {
			select {
			case p.chunks <- chunk{stream: stream, data: buf[:n]}:
			case <-p.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.log.Debugw("pump read failed", "Stream", stream.String(), "Error", err)
				select {
				case p.chunks <- chunk{stream: stream, err: err}:
				case <-p.done:
				}
			} else {
				p.log.Debugw("pump stream closed", "Stream", stream.String())
			}
			return
		}
	}
}

// closeStream closes the parent-side end of one output stream, unblocking its
// reader. Closing a stream twice, or a stream the pump never had, is a no-op.
func (p *pump) closeStream(stream Stream) {
	p.mu.Lock()
	f := p.files[stream]
	delete(p.files, stream)
	p.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}
}

// close tears the pump down: both files are closed and the reader goroutines
// are released even if nobody is draining the chunk channel. Idempotent.
func (p *pump) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.closeStream(Out)
		p.closeStream(Err)
	})
}
