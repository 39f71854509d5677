package redproc

import (
	"bytes"
	"io"
)

// Sink consumes chunks of child output during Drain or Parse. Returning
// false stops the loop. Before any output is read the sink is called once
// with the In tag and an empty chunk, giving line or frame parsers a chance
// to flush state left over from a previous drain.
type Sink func(stream Stream, data []byte) bool

// BufferSink appends every chunk to buf.
func BufferSink(buf *bytes.Buffer) Sink {
	return func(stream Stream, data []byte) bool {
		buf.Write(data)
		return true
	}
}

// WriterSink forwards every chunk to w and stops the drain on a write error.
func WriterSink(w io.Writer) Sink {
	return func(stream Stream, data []byte) bool {
		_, err := w.Write(data)
		return err == nil
	}
}

// DiscardSink throws every chunk away.
func DiscardSink() Sink {
	return func(Stream, []byte) bool { return true }
}

// TeeSink feeds each chunk to every given sink and stops once any of them
// does.
func TeeSink(sinks ...Sink) Sink {
	return func(stream Stream, data []byte) bool {
		ok := true
		for _, s := range sinks {
			if !s(stream, data) {
				ok = false
			}
		}
		return ok
	}
}
