package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/groundstation/engine"
	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
	"github.com/temoto/groundstation/relay"
	"github.com/temoto/groundstation/telemetry"
)

// Global is one ground station session.
type Global struct {
	Alive  *alive.Alive
	Config *Config
	Engine *engine.Engine
	Log    *log2.Log
	// Opener is used by Init to create Serial, nil means OS serial ports.
	Opener serial.Opener
	Relay  *relay.Relay
	Serial *serial.Manager
	Store  *telemetry.Store

	lk       sync.Mutex
	lastErr  error
	stopOnce sync.Once
}

const ContextKey = "run/state-global"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive:  alive.NewAlive(),
		Engine: engine.NewEngine(),
		Log:    log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, engine.ContextKey, g.Engine)
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	errs := make([]error, 0)

	policy, err := telemetry.ParseFailurePolicy(cfg.Station.FailurePolicy)
	if err != nil {
		errs = append(errs, errors.Annotate(err, "config: station.failure_policy"))
	}
	g.Store = telemetry.NewStore(policy)

	if cfg.Station.TeamID < 0 || cfg.Station.TeamID > 0xff {
		errs = append(errs, errors.NotValidf("config: station.team_id=%d", cfg.Station.TeamID))
	}
	if cfg.Station.LinesPerTick < 0 {
		errs = append(errs, errors.NotValidf("config: station.lines_per_tick=%d", cfg.Station.LinesPerTick))
	}
	g.Log.Debugf("config: station poll=%v lines_per_tick=%d failure_policy=%s",
		cfg.PollInterval(), cfg.LinesPerTick(), policy)

	if g.Opener == nil {
		g.Opener = serial.FileOpener{}
	}
	serialLog := g.Log.Clone(log2.LInfo)
	if cfg.Serial.LogDebug {
		serialLog.SetLevel(log2.LDebug)
	}
	g.Serial = serial.NewManager(g.Opener, &cfg.Serial, serialLog)
	for _, name := range serial.Channels {
		cc := cfg.Channel(name)
		if cc.Codepage == "" {
			continue
		}
		if err := g.Serial.SetCodepage(name, cc.Codepage); err != nil {
			errs = append(errs, errors.Annotate(err, "config: channel codepage"))
		}
	}

	// relay failure must not prevent telemetry reception
	relayLog := g.Log.Clone(log2.LInfo)
	if cfg.Relay.LogDebug {
		relayLog.SetLevel(log2.LDebug)
	}
	g.Relay = relay.New(cfg.Relay, relayLog)
	if err := g.Relay.Start(ctx); err != nil {
		g.Error(err, "relay start")
		g.Relay = nil
	}

	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.lk.Lock()
		g.lastErr = err
		g.lk.Unlock()
		g.Log.Errorf("%s", errors.ErrorStack(err))
	}
}

// LastError for operator status line.
func (g *Global) LastError() error {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.lastErr
}

// LinkStats returns stats of all channels in stable order.
func (g *Global) LinkStats() []serial.Stat {
	stats := make([]serial.Stat, 0, len(serial.Channels))
	for _, name := range serial.Channels {
		if st, err := g.Serial.Stat(name); err == nil {
			stats = append(stats, st)
		}
	}
	return stats
}

// PublishLink offers current channel state to relay.
func (g *Global) PublishLink() {
	if g.Relay == nil {
		return
	}
	g.Relay.OfferLink(g.LinkStats())
}

// Stop closes relay and all channels, safe to call many times.
func (g *Global) Stop() {
	g.stopOnce.Do(func() {
		g.Alive.Stop()
		g.Relay.Stop()
		if g.Serial != nil {
			if err := g.Serial.CloseAll(); err != nil {
				g.Error(err, "close channels")
			}
		}
		g.Log.Debugf("global stopped")
	})
}
