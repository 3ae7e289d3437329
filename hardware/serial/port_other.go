//go:build !linux
// +build !linux

package serial

import (
	"runtime"
	"time"

	"github.com/juju/errors"
)

type FileOpener struct{}

func (FileOpener) Open(path string, baud int, timeout time.Duration) (Stream, error) {
	return nil, errors.NotSupportedf("serial port on %s", runtime.GOOS)
}
