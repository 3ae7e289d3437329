package state

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
	"github.com/temoto/groundstation/relay"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLinesPerTick = 8
	DefaultConfigName   = "groundstation.hcl"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include  []ConfigSource  `hcl:"include"`
	XXX_Channels []ChannelConfig `hcl:"channel"`
	XXX_Aliases  []AliasConfig   `hcl:"alias"`

	Station struct { //nolint:maligned
		PollIntervalMs int    `hcl:"poll_interval_ms"`
		LinesPerTick   int    `hcl:"lines_per_tick"`
		FailurePolicy  string `hcl:"failure_policy"`
		TeamID         int    `hcl:"team_id"`
		LogDebug       bool   `hcl:"log_debug"`
	} `hcl:"station"`
	Serial serial.Config `hcl:"serial"`
	Relay  relay.Config  `hcl:"relay"`

	// Channels and Aliases are merged from all sources, later block with same name wins.
	Channels map[serial.ChannelName]ChannelConfig `hcl:"-"`
	Aliases  map[string]AliasConfig               `hcl:"-"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// ChannelConfig provides defaults for operator connect without arguments.
type ChannelConfig struct {
	Name        string `hcl:"name,key"`
	Port        string `hcl:"port"`
	Baud        int    `hcl:"baud"`
	Codepage    string `hcl:"codepage"`
	Autoconnect bool   `hcl:"autoconnect"`
}

// AliasConfig names a console command line.
type AliasConfig struct {
	Name     string `hcl:"name,key"`
	Commands string `hcl:"commands"`
}

func (c *Config) PollInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.Station.PollIntervalMs, DefaultPollInterval)
}

func (c *Config) LinesPerTick() int {
	if c.Station.LinesPerTick <= 0 {
		return DefaultLinesPerTick
	}
	return c.Station.LinesPerTick
}

// Channel returns configured defaults, zero Port when not configured.
func (c *Config) Channel(name serial.ChannelName) ChannelConfig {
	cc, ok := c.Channels[name]
	if !ok {
		cc.Name = string(name)
	}
	if cc.Baud <= 0 {
		cc.Baud = serial.DefaultBaud
	}
	return cc
}

// AliasNames sorted.
func (c *Config) AliasNames() []string {
	names := make([]string, 0, len(c.Aliases))
	for name := range c.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var channels []ChannelConfig
	channels, c.XXX_Channels = c.XXX_Channels, nil
	for _, cc := range channels {
		name, err := serial.ParseChannelName(cc.Name)
		if err != nil {
			*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
			continue
		}
		if cc.Baud < 0 {
			*errs = append(*errs, errors.NotValidf("config source=%s channel=%s baud=%d", source.Name, name, cc.Baud))
			continue
		}
		cc.Name = string(name)
		c.Channels[name] = cc
	}

	var aliases []AliasConfig
	aliases, c.XXX_Aliases = c.XXX_Aliases, nil
	for _, a := range aliases {
		if strings.TrimSpace(a.Commands) == "" {
			*errs = append(*errs, errors.NotValidf("config source=%s alias=%s empty commands", source.Name, a.Name))
			continue
		}
		c.Aliases[a.Name] = a
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
		Channels:    make(map[serial.ChannelName]ChannelConfig, len(serial.Channels)),
		Aliases:     make(map[string]AliasConfig),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
