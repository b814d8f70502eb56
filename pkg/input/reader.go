package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// fileBufferSize is the buffered-read size for file-backed readers.
const fileBufferSize = 16384

// pipeBufferSize is the read-ahead window kept filled in front of a
// process-backed reader: one second of 48 kHz stereo float samples. The mix
// loop consumes from this window instead of waiting on the pipe itself.
const pipeBufferSize = SampleRate * 2 * 4

// ErrSeekUnsupported is returned when seeking a reader that has no stable
// byte positions.
type ErrSeekUnsupported struct{}

// Error implements the error interface.
func (e ErrSeekUnsupported) Error() string {
	return "seeking is not supported on this reader"
}

// Reader is a byte source feeding an Input: a file, a transcoder pipe or a
// caller-supplied stream.
//
// Readers backed by a live producer must not block waiting for it: Read
// returns whatever is currently buffered, and (0, nil) when nothing is
// available yet. The mix path carries partial frames across ticks, so a
// stalled producer only silences its own track.
type Reader interface {
	io.ReadCloser

	// IsSeekable reports whether Seek works on this reader.
	IsSeekable() bool

	// Seek moves the read position. Readers without stable byte positions
	// return ErrSeekUnsupported.
	Seek(offset int64, whence int) (int64, error)
}

// fileReader reads a file through a buffer, dropping the buffer on seek.
type fileReader struct {
	f  *os.File
	br *bufio.Reader
}

// NewFileReader allocates a Reader over an open file.
func NewFileReader(f *os.File) Reader {
	return &fileReader{
		f:  f,
		br: bufio.NewReaderSize(f, fileBufferSize),
	}
}

func (r *fileReader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}

func (r *fileReader) IsSeekable() bool {
	return true
}

func (r *fileReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.f.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	r.br.Reset(r.f)
	return pos, nil
}

func (r *fileReader) Close() error {
	return r.f.Close()
}

// pipeReader reads the stdout of one or more child processes through a
// read-ahead window, and kills them all on close.
type pipeReader struct {
	cmds []*exec.Cmd
	ra   *readAhead
}

// NewPipeReader allocates a Reader over the stdout of the last of a chain of
// started child processes. All of them are killed when the reader is closed.
func NewPipeReader(stdout io.Reader, cmds ...*exec.Cmd) Reader {
	return &pipeReader{
		cmds: cmds,
		ra:   newReadAhead(stdout, pipeBufferSize),
	}
}

func (r *pipeReader) Read(p []byte) (int, error) {
	return r.ra.Read(p)
}

func (r *pipeReader) IsSeekable() bool {
	return false
}

func (r *pipeReader) Seek(_ int64, _ int) (int64, error) {
	return 0, ErrSeekUnsupported{}
}

func (r *pipeReader) Close() error {
	r.ra.Close()

	var err error
	for _, cmd := range r.cmds {
		if cmd.Process != nil {
			cmd.Process.Kill() //nolint:errcheck
		}
		if werr := cmd.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// extensionReader wraps a caller-supplied stream.
type extensionReader struct {
	r io.Reader
}

// NewExtensionReader allocates a Reader over a caller-supplied stream.
func NewExtensionReader(r io.Reader) Reader {
	return &extensionReader{r: r}
}

func (r *extensionReader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

func (r *extensionReader) IsSeekable() bool {
	return false
}

func (r *extensionReader) Seek(_ int64, _ int) (int64, error) {
	return 0, ErrSeekUnsupported{}
}

func (r *extensionReader) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// extensionSeekReader wraps a caller-supplied seekable stream.
type extensionSeekReader struct {
	rs io.ReadSeeker
}

// NewExtensionSeekReader allocates a Reader over a caller-supplied seekable
// stream.
func NewExtensionSeekReader(rs io.ReadSeeker) Reader {
	return &extensionSeekReader{rs: rs}
}

func (r *extensionSeekReader) Read(p []byte) (int, error) {
	return r.rs.Read(p)
}

func (r *extensionSeekReader) IsSeekable() bool {
	return true
}

func (r *extensionSeekReader) Seek(offset int64, whence int) (int64, error) {
	return r.rs.Seek(offset, whence)
}

func (r *extensionSeekReader) Close() error {
	if c, ok := r.rs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// readAhead keeps a window of bytes pulled from a source by a background
// goroutine, so that consumers never wait on the source's own pace. Read
// never blocks: an empty window yields (0, nil) until the source ends.
type readAhead struct {
	mutex    sync.Mutex
	cond     *sync.Cond
	buf      []byte
	readPos  int
	writePos int
	count    int
	err      error
	closed   bool
}

func newReadAhead(src io.Reader, size int) *readAhead {
	ra := &readAhead{
		buf: make([]byte, size),
	}
	ra.cond = sync.NewCond(&ra.mutex)

	go ra.fill(src)

	return ra
}

func (ra *readAhead) fill(src io.Reader) {
	chunk := make([]byte, 4096)

	for {
		n, err := src.Read(chunk)

		ra.mutex.Lock()

		for i := 0; i < n; {
			for ra.count == len(ra.buf) && !ra.closed {
				ra.cond.Wait()
			}
			if ra.closed {
				ra.mutex.Unlock()
				return
			}

			space := len(ra.buf) - ra.count
			end := len(ra.buf) - ra.writePos
			if space < end {
				end = space
			}
			if (n - i) < end {
				end = n - i
			}

			copy(ra.buf[ra.writePos:ra.writePos+end], chunk[i:i+end])
			ra.writePos = (ra.writePos + end) % len(ra.buf)
			ra.count += end
			i += end

			ra.cond.Broadcast()
		}

		if err != nil {
			ra.err = err
			ra.cond.Broadcast()
			ra.mutex.Unlock()
			return
		}

		if ra.closed {
			ra.mutex.Unlock()
			return
		}

		ra.mutex.Unlock()
	}
}

func (ra *readAhead) Read(p []byte) (int, error) {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	if ra.count == 0 {
		switch {
		case ra.err != nil:
			return 0, ra.err
		case ra.closed:
			return 0, fmt.Errorf("reader is closed")
		}
		// window underrun: the source has not produced more yet
		return 0, nil
	}

	n := len(p)
	if n > ra.count {
		n = ra.count
	}

	for i := 0; i < n; {
		end := len(ra.buf) - ra.readPos
		if (n - i) < end {
			end = n - i
		}
		copy(p[i:i+end], ra.buf[ra.readPos:ra.readPos+end])
		ra.readPos = (ra.readPos + end) % len(ra.buf)
		i += end
	}
	ra.count -= n

	ra.cond.Broadcast()

	return n, nil
}

func (ra *readAhead) Close() {
	ra.mutex.Lock()
	ra.closed = true
	ra.mutex.Unlock()
	ra.cond.Broadcast()
}
