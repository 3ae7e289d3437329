package serial

import (
	"bytes"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
)

type channel struct {
	mu        sync.Mutex
	name      ChannelName
	port      string
	baud      int
	stream    Stream
	pending   []byte
	discard   bool // inside oversized line, drop until next newline
	rbuf      [MaxLineLength]byte
	cp        *codepage
	connected atomic_clock.Clock
	stat      Stat
}

// Manager holds fixed slot table, one per ChannelName.
// Operations on different channels do not block each other.
type Manager struct {
	log         *log2.Log
	opener      Opener
	readTimeout time.Duration
	sysfsRoot   string
	chans       map[ChannelName]*channel
}

func NewManager(opener Opener, config *Config, log *log2.Log) *Manager {
	self := &Manager{
		log:         log,
		opener:      opener,
		readTimeout: config.ReadTimeout(),
		sysfsRoot:   DefaultSysfsRoot,
		chans:       make(map[ChannelName]*channel, len(Channels)),
	}
	if config != nil && config.SysfsRoot != "" {
		self.sysfsRoot = config.SysfsRoot
	}
	for _, name := range Channels {
		self.chans[name] = &channel{name: name}
	}
	return self
}

func (self *Manager) channel(name ChannelName) (*channel, error) {
	ch, ok := self.chans[name]
	if !ok {
		return nil, errors.NotValidf("channel=%q", name)
	}
	return ch, nil
}

// ListAvailablePorts never fails, empty result when host reports nothing.
func (self *Manager) ListAvailablePorts() []string {
	ports, err := listPorts(self.sysfsRoot)
	if err != nil {
		self.log.Debugf("serial list ports root=%s err=%v", self.sysfsRoot, err)
	}
	return ports
}

// SetCodepage makes channel decode lines from legacy codepage to UTF-8.
// Empty cp means input must be valid UTF-8. Survives reconnect.
func (self *Manager) SetCodepage(name ChannelName, cp string) error {
	ch, err := self.channel(name)
	if err != nil {
		return err
	}
	var c *codepage
	if cp != "" {
		if c, err = newCodepage(cp); err != nil {
			return errors.Annotatef(err, "channel=%s", name)
		}
	}
	ch.mu.Lock()
	ch.cp = c
	ch.mu.Unlock()
	return nil
}

// Connect closes any stream bound to name, then opens port.
// On error name stays unbound.
func (self *Manager) Connect(port string, baud int, name ChannelName) error {
	ch, err := self.channel(name)
	if err != nil {
		return err
	}
	if port == "" {
		return errors.NotValidf("channel=%s empty port", name)
	}
	if baud <= 0 {
		return errors.NotValidf("channel=%s baud=%d", name, baud)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream != nil {
		prev := ch.port
		self.log.Debugf("serial channel=%s closing previous port=%s", name, prev)
		if err := ch.unbind(); err != nil {
			self.log.Errorf("serial channel=%s close previous port=%s err=%v", name, prev, err)
		}
	}
	s, err := self.opener.Open(port, baud, self.readTimeout)
	if err != nil {
		return errors.Annotatef(err, "channel=%s port=%s baud=%d", name, port, baud)
	}
	ch.stream = s
	ch.port = port
	ch.baud = baud
	ch.connected.SetNow()
	self.log.Debugf("serial channel=%s connected port=%s baud=%d", name, port, baud)
	return nil
}

// Disconnect is no-op for closed channel.
func (self *Manager) Disconnect(name ChannelName) error {
	ch, err := self.channel(name)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream == nil {
		return nil
	}
	port := ch.port
	if err := ch.unbind(); err != nil {
		return errors.Annotatef(err, "channel=%s port=%s close", name, port)
	}
	self.log.Debugf("serial channel=%s disconnected port=%s", name, port)
	return nil
}

func (self *Manager) IsConnected(name ChannelName) bool {
	ch, err := self.channel(name)
	if err != nil {
		return false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.stream != nil
}

// ReadLine returns next complete line without terminator, never blocks.
// Bytes of incomplete line are kept for later calls.
// false means no data: nothing buffered, channel closed, read failure or
// undecodable line (counted in Stat.DecodeErrors).
func (self *Manager) ReadLine(name ChannelName) (string, bool) {
	ch, err := self.channel(name)
	if err != nil {
		self.log.Debugf("serial ReadLine %v", err)
		return "", false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream == nil {
		return "", false
	}
	if line, ok, done := ch.nextLine(); done {
		return line, ok
	}

	n, err := ch.stream.Buffered()
	if err != nil {
		self.log.Debugf("serial channel=%s buffered err=%v", name, err)
		return "", false
	}
	if n <= 0 {
		return "", false
	}
	if n > len(ch.rbuf) {
		n = len(ch.rbuf)
	}
	n, err = ch.stream.Read(ch.rbuf[:n])
	if n > 0 {
		ch.stat.BytesIn += uint64(n)
		ch.pending = append(ch.pending, ch.rbuf[:n]...)
	}
	if err != nil {
		self.log.Debugf("serial channel=%s read err=%v", name, err)
	}
	line, ok, _ := ch.nextLine()
	return line, ok
}

// WriteBytes writes whole p or fails. No retry.
func (self *Manager) WriteBytes(name ChannelName, p []byte) error {
	ch, err := self.channel(name)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream == nil {
		return errors.Annotatef(ErrNotConnected, "channel=%s", name)
	}
	if err = helpers.WriteAll(ch.stream, p); err != nil {
		return errors.Annotatef(err, "channel=%s port=%s write", name, ch.port)
	}
	ch.stat.BytesOut += uint64(len(p))
	return nil
}

// CloseAll disconnects every channel, safe when nothing is connected.
func (self *Manager) CloseAll() error {
	errs := make([]error, 0, len(Channels))
	for _, name := range Channels {
		errs = append(errs, self.Disconnect(name))
	}
	return helpers.FoldErrors(errs)
}

func (self *Manager) Stat(name ChannelName) (Stat, error) {
	ch, err := self.channel(name)
	if err != nil {
		return Stat{}, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	s := ch.stat
	s.Name = name
	s.Connected = ch.stream != nil
	if s.Connected {
		s.Port = ch.port
		s.Baud = ch.baud
		s.ConnectedAt = time.Now().Add(-atomic_clock.Since(&ch.connected))
	}
	if ch.cp != nil {
		s.Codepage = ch.cp.name
	}
	return s, nil
}

// caller holds mu
func (self *channel) unbind() error {
	err := self.stream.Close()
	self.stream = nil
	self.port = ""
	self.baud = 0
	self.pending = self.pending[:0]
	self.discard = false
	self.connected.Set(0)
	return err
}

// nextLine extracts complete lines from pending. done=false means pending
// has no complete line and caller may read more. Blank lines are skipped.
// caller holds mu
func (self *channel) nextLine() (line string, ok bool, done bool) {
	for {
		i := bytes.IndexByte(self.pending, '\n')
		if i < 0 {
			if len(self.pending) > MaxLineLength {
				if !self.discard {
					self.stat.DecodeErrors++
				}
				self.pending = self.pending[:0]
				self.discard = true
			}
			return "", false, false
		}
		raw := self.pending[:i]
		if self.discard {
			self.discard = false
			self.consume(i + 1)
			continue
		}
		if len(raw) > MaxLineLength {
			self.stat.DecodeErrors++
			self.consume(i + 1)
			continue
		}
		s, err := self.decode(raw)
		self.consume(i + 1)
		if err != nil {
			self.stat.DecodeErrors++
			return "", false, true
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		self.stat.Lines++
		return s, true, true
	}
}

func (self *channel) consume(n int) {
	rest := copy(self.pending, self.pending[n:])
	self.pending = self.pending[:rest]
}

// decode must copy, raw aliases pending buffer
func (self *channel) decode(raw []byte) (string, error) {
	if self.cp != nil {
		return self.cp.decode(raw)
	}
	if !utf8.Valid(raw) {
		return "", errors.NotValidf("UTF-8 line")
	}
	return string(raw), nil
}
