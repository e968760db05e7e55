package logger

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AsyncFileWriter decouples log emission from disk I/O: Write enqueues
// the line and returns immediately, a single goroutine drains the queue.
// When the queue is full the line is dropped rather than blocking a
// request path.
type AsyncFileWriter struct {
	file  *os.File
	buf   *bufio.Writer
	lines chan []byte

	flushEvery time.Duration
	closeOnce  sync.Once
	done       chan struct{}
	drained    chan struct{}
}

func NewAsyncFileWriter(path string, bufferSize, queueSize int, flushEvery time.Duration) (*AsyncFileWriter, error) {
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}

	w := &AsyncFileWriter{
		file:       file,
		buf:        bufio.NewWriterSize(file, bufferSize),
		lines:      make(chan []byte, queueSize),
		flushEvery: flushEvery,
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	go w.drain()
	return w, nil
}

func (w *AsyncFileWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	select {
	case w.lines <- line:
		return len(p), nil
	default:
		// Queue full: dropping beats blocking the caller.
		return len(p), nil
	}
}

func (w *AsyncFileWriter) drain() {
	defer close(w.drained)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case line := <-w.lines:
			w.buf.Write(line)
		case <-ticker.C:
			w.buf.Flush()
		case <-w.done:
			for {
				select {
				case line := <-w.lines:
					w.buf.Write(line)
				default:
					w.buf.Flush()
					return
				}
			}
		}
	}
}

// Close flushes whatever is queued and closes the file.
func (w *AsyncFileWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		<-w.drained
	})
	return w.file.Close()
}
