//go:build linux
// +build linux

package serial

import (
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// FileOpener opens tty device in raw 8N1 mode, arbitrary baud via BOTHER.
type FileOpener struct{}

func (FileOpener) Open(path string, baud int, timeout time.Duration) (Stream, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, errors.Annotatef(err, "open %s", path)
	}
	if err = resetTermios(fd, baud, timeout); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Annotatef(err, "termios %s baud=%d", path, baud)
	}
	return &fileStream{fd: fd}, nil
}

type fileStream struct {
	fd int
}

func (self *fileStream) Buffered() (int, error) {
	n, err := unix.IoctlGetInt(self.fd, unix.TIOCINQ)
	return n, errors.Trace(err)
}

// Read waits at most VTIME when nothing is buffered.
func (self *fileStream) Read(p []byte) (int, error) {
	n, err := unix.Read(self.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (self *fileStream) Write(p []byte) (int, error) {
	n, err := unix.Write(self.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (self *fileStream) Close() error {
	if self.fd < 0 {
		return nil
	}
	err := unix.Close(self.fd)
	self.fd = -1
	return err
}

func resetTermios(fd int, baud int, timeout time.Duration) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		return err
	}
	makeRaw(t, baud, timeout)
	// flush input and output
	return unix.IoctlSetTermios(fd, unix.TCSETSF2, t)
}

func makeRaw(t *unix.Termios, baud int, timeout time.Duration) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD | unix.CIBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = vtime(timeout)
}

// vtime converts timeout to termios deciseconds, 1..255
func vtime(d time.Duration) uint8 {
	ds := d / (100 * time.Millisecond)
	if ds < 1 {
		return 1
	}
	if ds > 255 {
		return 255
	}
	return uint8(ds)
}
