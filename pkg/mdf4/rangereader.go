package mdf4

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// ByteSource is the external, random-access read collaborator consumed
// by the walker, decoder, and index builder. Implementations must serve
// reads in arbitrary order.
type ByteSource interface {
	ReadAt(offset uint64, into []byte) (int, error)
	// TotalLength reports the source's size, if known. Walk uses it to
	// read the whole source in one call; when it is unknown, Walk reads
	// in chunks until a short read.
	TotalLength() (uint64, bool)
}

// ByteSink is the external write collaborator consumed by the writer.
// Seek is required because link and length backpatching depend on it.
type ByteSink interface {
	Write(p []byte) error
	Seek(offset uint64) error
	Tell() (uint64, error)
	Flush() error
}

// MemorySource is a ByteSource over an in-memory buffer, primarily for
// tests and small files.
type MemorySource struct {
	Data []byte
}

func (m *MemorySource) ReadAt(offset uint64, into []byte) (int, error) {
	if offset >= uint64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(into, m.Data[offset:])
	if n < len(into) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemorySource) TotalLength() (uint64, bool) { return uint64(len(m.Data)), true }

// MemorySink is a ByteSink over a growable in-memory buffer.
type MemorySink struct {
	buf []byte
	pos uint64
}

func (m *MemorySink) Write(p []byte) error {
	end := m.pos + uint64(len(p))
	if end > uint64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return nil
}

func (m *MemorySink) Seek(offset uint64) error { m.pos = offset; return nil }
func (m *MemorySink) Tell() (uint64, error)    { return m.pos, nil }
func (m *MemorySink) Flush() error             { return nil }
func (m *MemorySink) Bytes() []byte            { return m.buf }

// MmapSource is a ByteSource backed by a memory-mapped file, falling
// back to plain ReadAt-based loading when mmap is unavailable.
//
// Grounded on the teacher's Open: prefer mmap for zero-copy access, fall
// back to a buffered read when the platform or filesystem refuses it.
type MmapSource struct {
	f       *os.File
	data    []byte
	mmapped bool
}

// OpenMmapSource opens path read-only and maps its contents.
func OpenMmapSource(path string) (*MmapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapIO("open mmap source", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, wrapIO("stat mmap source", err)
	}
	size := stat.Size()
	if size < 0 {
		_ = f.Close()
		return nil, &InvalidDataError{Context: "negative file size"}
	}

	data, mmErr := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if mmErr == nil {
		return &MmapSource{f: f, data: data, mmapped: true}, nil
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, size), buf); err != nil {
		_ = f.Close()
		return nil, wrapIO("read mmap source fallback", err)
	}
	return &MmapSource{f: f, data: buf, mmapped: false}, nil
}

func (m *MmapSource) ReadAt(offset uint64, into []byte) (int, error) {
	if offset >= uint64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(into, m.data[offset:])
	if n < len(into) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MmapSource) TotalLength() (uint64, bool) { return uint64(len(m.data)), true }

// Close unmaps the file (if mapped) and closes the underlying handle.
func (m *MmapSource) Close() error {
	var err error
	if m.mmapped && m.data != nil {
		err = unix.Munmap(m.data)
	}
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// FileSink is a ByteSink over an os.File, used by the writer.
type FileSink struct {
	f *os.File
}

// NewFileSink truncates f and returns a ByteSink writing to it from
// offset 0.
func NewFileSink(f *os.File) (*FileSink, error) {
	if err := f.Truncate(0); err != nil {
		return nil, wrapIO("truncate file sink", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, wrapIO("seek file sink", err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(p []byte) error {
	for len(p) > 0 {
		n, err := s.f.Write(p)
		if err != nil {
			return wrapIO("write file sink", err)
		}
		p = p[n:]
	}
	return nil
}

func (s *FileSink) Seek(offset uint64) error {
	_, err := s.f.Seek(int64(offset), io.SeekStart)
	return wrapIO("seek file sink", err)
}

func (s *FileSink) Tell() (uint64, error) {
	pos, err := s.f.Seek(0, io.SeekCurrent)
	return uint64(pos), wrapIO("tell file sink", err)
}

func (s *FileSink) Flush() error { return wrapIO("flush file sink", s.f.Sync()) }

// pageSize is the fixed page size used by BufferedSource's LRU.
const pageSize = 64 * 1024

// BufferedSource layers a small fixed-page LRU cache over a raw
// ByteSource, so that many small, possibly out-of-order reads within one
// record boundary are served without repeated round trips to the
// underlying source.
type BufferedSource struct {
	mu       sync.Mutex
	inner    ByteSource
	capacity int
	pages    map[uint64][]byte
	order    []uint64 // most-recently-used last
}

// NewBufferedSource wraps inner with an LRU of capacity pages of
// pageSize bytes each.
func NewBufferedSource(inner ByteSource, capacity int) *BufferedSource {
	if capacity <= 0 {
		capacity = 16
	}
	return &BufferedSource{
		inner:    inner,
		capacity: capacity,
		pages:    make(map[uint64][]byte),
	}
}

func (b *BufferedSource) ReadAt(offset uint64, into []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	read := 0
	for read < len(into) {
		pageIdx := (offset + uint64(read)) / pageSize
		pageOff := (offset + uint64(read)) % pageSize

		page, err := b.loadPage(pageIdx)
		if err != nil {
			return read, err
		}
		if pageOff >= uint64(len(page)) {
			return read, io.EOF
		}
		n := copy(into[read:], page[pageOff:])
		read += n
		if uint64(len(page)) < pageSize {
			// short page: underlying source is exhausted.
			if read < len(into) {
				return read, io.EOF
			}
		}
	}
	return read, nil
}

func (b *BufferedSource) loadPage(idx uint64) ([]byte, error) {
	if page, ok := b.pages[idx]; ok {
		b.touch(idx)
		return page, nil
	}
	buf := make([]byte, pageSize)
	n, err := b.inner.ReadAt(idx*pageSize, buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	page := buf[:n]
	b.pages[idx] = page
	b.order = append(b.order, idx)
	if len(b.order) > b.capacity {
		evict := b.order[0]
		b.order = b.order[1:]
		delete(b.pages, evict)
	}
	return page, nil
}

func (b *BufferedSource) touch(idx uint64) {
	for i, v := range b.order {
		if v == idx {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.order = append(b.order, idx)
}

func (b *BufferedSource) TotalLength() (uint64, bool) { return b.inner.TotalLength() }

// HTTPRangeSource is a ByteSource that fetches ranges from an HTTP
// server supporting the Range header, throttled by a rate limiter so a
// caller extracting many small ranges does not overwhelm the server.
//
// No pack example ships an HTTP client library (labstack/echo/v5 is a
// server framework), so this collaborator is built on net/http.
type HTTPRangeSource struct {
	Client  *http.Client
	URL     string
	Limiter *rate.Limiter

	mu     sync.Mutex
	length uint64
	known  bool
}

// NewHTTPRangeSource builds a source against url, limited to
// requestsPerSecond requests per second with a burst of 1.
func NewHTTPRangeSource(url string, requestsPerSecond float64) *HTTPRangeSource {
	return &HTTPRangeSource{
		Client:  http.DefaultClient,
		URL:     url,
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (h *HTTPRangeSource) ReadAt(offset uint64, into []byte) (int, error) {
	if len(into) == 0 {
		return 0, nil
	}
	if h.Limiter != nil {
		if err := h.Limiter.Wait(context.Background()); err != nil {
			return 0, wrapIO("http range rate limit", err)
		}
	}

	end := offset + uint64(len(into)) - 1
	req, err := http.NewRequest(http.MethodGet, h.URL, nil)
	if err != nil {
		return 0, wrapIO("http range request", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))

	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, wrapIO("http range do", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, wrapIO("http range status", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	n, err := io.ReadFull(resp.Body, into)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, wrapIO("http range body", err)
	}
	return n, nil
}

func (h *HTTPRangeSource) TotalLength() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.known {
		return h.length, true
	}

	resp, err := h.Client.Head(h.URL)
	if err != nil {
		return 0, false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.ContentLength < 0 {
		return 0, false
	}
	h.length = uint64(resp.ContentLength)
	h.known = true
	return h.length, true
}

// sortedUint64 returns a sorted copy of xs. Nothing in the package
// calls it.
func sortedUint64(xs []uint64) []uint64 {
	out := make([]uint64, len(xs))
	copy(out, xs)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
