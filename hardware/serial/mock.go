package serial

// Public API to easy create serial stubs to test your code.
import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
)

// MockStream is in-memory Stream. Feed() simulates bytes arriving from the radio.
type MockStream struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
	baud   int

	ReadErr  error
	WriteErr error
}

func NewMockStream() *MockStream { return &MockStream{} }

func (self *MockStream) Feed(s string) {
	self.mu.Lock()
	self.in.WriteString(s)
	self.mu.Unlock()
}

func (self *MockStream) Written() []byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]byte(nil), self.out.Bytes()...)
}

func (self *MockStream) Closed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}

func (self *MockStream) Baud() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.baud
}

func (self *MockStream) Buffered() (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return 0, errors.New("mock stream closed")
	}
	return self.in.Len(), nil
}

func (self *MockStream) Read(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return 0, errors.New("mock stream closed")
	}
	if self.ReadErr != nil {
		return 0, self.ReadErr
	}
	if self.in.Len() == 0 {
		return 0, nil
	}
	return self.in.Read(p)
}

func (self *MockStream) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return 0, errors.New("mock stream closed")
	}
	if self.WriteErr != nil {
		return 0, self.WriteErr
	}
	return self.out.Write(p)
}

func (self *MockStream) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

// MockOpener serves registered MockStreams by path.
// Opening closed stream reopens it with empty output.
type MockOpener struct {
	mu      sync.Mutex
	streams map[string]*MockStream
	Err     error
}

func NewMockOpener() *MockOpener {
	return &MockOpener{streams: make(map[string]*MockStream)}
}

func (self *MockOpener) Add(path string) *MockStream {
	s := NewMockStream()
	self.mu.Lock()
	self.streams[path] = s
	self.mu.Unlock()
	return s
}

// Stream returns registered stream or nil.
func (self *MockOpener) Stream(path string) *MockStream {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.streams[path]
}

func (self *MockOpener) Paths() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	ps := make([]string, 0, len(self.streams))
	for p := range self.streams {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return ps
}

func (self *MockOpener) Open(path string, baud int, timeout time.Duration) (Stream, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Err != nil {
		return nil, self.Err
	}
	s, ok := self.streams[path]
	if !ok {
		return nil, errors.NotFoundf("port %s", path)
	}
	s.mu.Lock()
	s.closed = false
	s.out.Reset()
	s.baud = baud
	s.mu.Unlock()
	return s, nil
}
