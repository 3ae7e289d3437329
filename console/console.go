// Package console is the operator command language.
// Line is split into commands by ';', a command is a word followed by its arguments.
// Commands without arguments may also follow each other separated by whitespace.
package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/groundstation/engine"
	"github.com/temoto/groundstation/log2"
	"github.com/temoto/groundstation/state"
	"github.com/temoto/groundstation/station"
)

const usage = `syntax: commands separated by ';' or whitespace
(channels)
- ports                       list serial ports
- connect CH [PORT] [BAUD]    open channel vehicle|payload|uplink, defaults from config
- disconnect CH               close channel
(telemetry)
- status                      links, counters, last error
- show                        latest snapshot as YAML
- recover                     QR code with vehicle position for recovery crew
(uplink)
- send [TEAM]                 encode snapshot and write frame to uplink
- decode HEX                  validate and print uplink frame
(meta)
- sN       pause N milliseconds
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
- help     this text
`

const maxAliasDepth = 8

type aliasDepthKey struct{}

type Console struct {
	g        *state.Global
	s        *station.Station
	out      io.Writer
	commands map[string]command
}

func New(g *state.Global, s *station.Station, out io.Writer) *Console {
	self := &Console{g: g, s: s, out: out}
	self.commands = self.builtins()
	return self
}

// Init registers argument-less builtins and configured aliases in engine.
func (self *Console) Init() error {
	for name, c := range self.commands {
		if c.max == 0 {
			d, _ := c.build(nil)
			self.g.Engine.Register(name, d)
		}
	}
	names := self.g.Config.AliasNames()
	for _, name := range names {
		if _, ok := self.commands[name]; ok {
			return errors.NotValidf("alias=%s shadows command", name)
		}
		self.g.Engine.Register(name, self.newAlias(name, self.g.Config.Aliases[name].Commands))
	}
	errs := make([]error, 0)
	for _, name := range names {
		if err := self.g.Engine.Resolve(name).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		return errors.Annotatef(errs[0], "aliases invalid=%d", len(errs))
	}
	return nil
}

func (self *Console) newAlias(name, text string) engine.Doer {
	return engine.Func{
		Name: name,
		F: func(ctx context.Context) error {
			depth, _ := ctx.Value(aliasDepthKey{}).(int)
			if depth >= maxAliasDepth {
				return errors.Errorf("alias=%s nesting too deep", name)
			}
			d, err := self.ParseLine(text)
			if err != nil {
				return errors.Annotatef(err, "alias=%s", name)
			}
			return d.Do(context.WithValue(ctx, aliasDepthKey{}, depth+1))
		},
		V: func() error {
			_, err := self.ParseLine(text)
			return errors.Annotatef(err, "alias=%s", name)
		},
	}
}

// Exec parses and runs one line.
func (self *Console) Exec(ctx context.Context, line string) error {
	d, err := self.ParseLine(line)
	if err != nil {
		return err
	}
	return d.Do(ctx)
}

func (self *Console) Executor(ctx context.Context) func(string) {
	return func(line string) {
		if err := self.Exec(ctx, line); err != nil {
			self.g.Error(err)
			fmt.Fprintf(self.out, "error: %v\n", err)
		}
	}
}

func (self *Console) Completer() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "sN", Description: "pause for N ms"},
		{Text: "loop=N", Description: "repeat line N times"},
		{Text: "log=yes", Description: "enable debug logging"},
		{Text: "log=no", Description: "disable debug logging"},
		{Text: "help", Description: "show usage"},
	}
	for _, name := range sortedKeys(self.commands) {
		c := self.commands[name]
		suggests = append(suggests, prompt.Suggest{Text: name, Description: c.help})
	}
	for _, name := range self.g.Config.AliasNames() {
		suggests = append(suggests, prompt.Suggest{Text: name, Description: "alias: " + self.g.Config.Aliases[name].Commands})
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func (self *Console) ParseLine(line string) (engine.Doer, error) {
	segments := strings.Split(line, ";")
	words := make([][]string, 0, len(segments))
	empty := true
	for _, seg := range segments {
		ws := strings.Fields(seg)
		if len(ws) != 0 {
			empty = false
			words = append(words, ws)
		}
	}
	if empty {
		return engine.Nothing{Name: "empty"}, nil
	}

	// pre-parse special commands
	loopn := uint(0)
	for si, seg := range words {
		rest := seg[:0]
		for _, word := range seg {
			switch {
			case word == "help":
				return self.doUsage(), nil
			case strings.HasPrefix(word, "loop="):
				if loopn != 0 {
					return nil, errors.Errorf("multiple loop commands, expected at most one")
				}
				i, err := strconv.ParseUint(word[5:], 10, 32)
				if err != nil || i == 0 {
					return nil, errors.NotValidf("word=%s", word)
				}
				loopn = uint(i)
			default:
				rest = append(rest, word)
			}
		}
		words[si] = rest
	}

	tx := engine.NewSeq("input:" + strings.TrimSpace(line))
	for _, seg := range words {
		for len(seg) != 0 {
			d, n, err := self.parseCommand(seg)
			if err != nil {
				return nil, err
			}
			tx.Append(d)
			seg = seg[n:]
		}
	}

	if loopn != 0 {
		return engine.RepeatN{N: loopn, D: tx}, nil
	}
	return tx, nil
}

// parseCommand returns doer for words[0] and count of words consumed.
func (self *Console) parseCommand(words []string) (engine.Doer, int, error) {
	word := words[0]
	switch {
	case word == "log=yes":
		return self.doLog(log2.LDebug), 1, nil
	case word == "log=no":
		return self.doLog(log2.LInfo), 1, nil
	case len(word) > 1 && word[0] == 's' && word[1] >= '0' && word[1] <= '9':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return nil, 0, errors.Annotatef(err, "word=%s", word)
		}
		return engine.Sleep{Duration: time.Duration(i) * time.Millisecond}, 1, nil
	}

	if c, ok := self.commands[word]; ok {
		n := len(words) - 1
		if n > c.max {
			n = c.max
		}
		if n < c.min {
			return nil, 0, errors.NotValidf("command=%s arguments, usage: %s %s", word, word, c.args)
		}
		d, err := c.build(words[1 : 1+n])
		if err != nil {
			return nil, 0, errors.Annotatef(err, "command=%s", word)
		}
		return d, 1 + n, nil
	}
	if d := self.g.Engine.Resolve(word); d != nil {
		return d, 1, nil
	}
	return nil, 0, errors.NotFoundf("command '%s'", word)
}

func (self *Console) doUsage() engine.Doer {
	return engine.Func0{Name: "help", F: func() error {
		_, err := io.WriteString(self.out, usage)
		return err
	}}
}

func (self *Console) doLog(level log2.Level) engine.Doer {
	name := "log=no"
	if level >= log2.LDebug {
		name = "log=yes"
	}
	return engine.Func0{Name: name, F: func() error {
		self.g.Log.SetLevel(level)
		self.s.SetLogLevel(level)
		return nil
	}}
}
