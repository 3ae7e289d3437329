package state

import (
	"context"
	"testing"

	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/log2"
)

const MockOpenerContextKey = "test/serial-opener"

// NewTestContext returns initialized Global with mock serial ports.
// Channel ports named in confString are pre-registered with the mock opener.
func NewTestContext(t testing.TB, confString string) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	// log := log2.NewStderr(log2.LDebug) // useful with panics
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	cfg := MustReadConfig(log, fs, "test-inline")
	opener := serial.NewMockOpener()
	for _, cc := range cfg.Channels {
		if cc.Port != "" {
			opener.Add(cc.Port)
		}
	}
	g.Opener = opener
	g.MustInit(ctx, cfg)
	ctx = context.WithValue(ctx, MockOpenerContextKey, opener)
	t.Cleanup(g.Stop)

	return ctx, g
}

func GetMockOpener(ctx context.Context) *serial.MockOpener {
	return ctx.Value(MockOpenerContextKey).(*serial.MockOpener)
}
