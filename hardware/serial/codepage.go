package serial

import (
	"github.com/juju/errors"
	"github.com/paulrosania/go-charset/charset"
	_ "github.com/paulrosania/go-charset/data"
)

// codepage translates legacy 8-bit text from older flight computers to UTF-8.
// Translator is stateful, use under channel lock.
type codepage struct {
	name string
	tr   charset.Translator
}

func newCodepage(name string) (*codepage, error) {
	tr, err := charset.TranslatorFrom(name)
	if err != nil {
		return nil, errors.Annotatef(err, "codepage=%s", name)
	}
	return &codepage{name: name, tr: tr}, nil
}

func (self *codepage) decode(raw []byte) (string, error) {
	_, tb, err := self.tr.Translate(raw, true)
	if err != nil {
		return "", errors.NewNotValid(err, "codepage="+self.name)
	}
	// translator reuses internal buffer
	return string(tb), nil
}
