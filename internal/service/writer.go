package service

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxLineBytes caps a single captured line. Longer lines are split.
const MaxLineBytes = 64 * 1024

// lineWriter splits the byte stream written by os/exec into lines and hands
// every complete line to emit. os/exec copies the pipe in its own goroutine,
// so the worker never waits for anybody but that copy loop.
type lineWriter struct {
	mx   sync.Mutex
	buf  []byte
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			for len(w.buf) > MaxLineBytes {
				c := cut(w.buf)
				w.line(w.buf[:c])
				w.buf = append(w.buf[:0], w.buf[c:]...)
			}
			break
		}
		if len(w.buf) > 0 {
			w.buf = append(w.buf, p[:i]...)
			w.line(w.buf)
			w.buf = w.buf[:0]
		} else {
			w.line(p[:i])
		}
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits a trailing line without a newline.
func (w *lineWriter) Flush() {
	w.mx.Lock()
	defer w.mx.Unlock()
	if len(w.buf) > 0 {
		w.line(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) line(b []byte) {
	for len(b) > MaxLineBytes {
		c := cut(b)
		w.emit(strings.ToValidUTF8(string(b[:c]), "�"))
		b = b[c:]
	}
	b = bytes.TrimSuffix(b, []byte{'\r'})
	w.emit(strings.ToValidUTF8(string(b), "�"))
}

// cut returns where to split b, which is longer than MaxLineBytes. It backs
// off to the start of a UTF-8 sequence, invalid input is cut at MaxLineBytes.
func cut(b []byte) int {
	n := MaxLineBytes
	for i := n; i > n-utf8.UTFMax && i > 0; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}
	return n
}
