package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/groundstation/console"
	"github.com/temoto/groundstation/helpers/cli"
	"github.com/temoto/groundstation/log2"
	"github.com/temoto/groundstation/state"
	"github.com/temoto/groundstation/station"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", state.DefaultConfigName, "")
	flagConsole := cmdline.String("console", "auto", "operator console yes|no|auto (auto=stdin is terminal)")
	flagDebug := cmdline.Bool("debug", false, "debug logging")
	_ = cmdline.Parse(os.Args[1:])

	if sdnotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}

	ctx, g := state.NewContext(log)
	g.MustInit(ctx, state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig))
	if g.Config.Station.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	s := station.New(g)
	ctx = context.WithValue(ctx, station.ContextKey, s)
	if err := s.Autoconnect(); err != nil {
		g.Error(err)
	}
	s.Start()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigch
		log.Infof("signal=%v stopping", sig)
		g.Alive.Stop()
	}()

	interactive := *flagConsole == "yes" || (*flagConsole == "auto" && isatty.IsTerminal(os.Stdin.Fd()))
	if interactive {
		c := console.New(g, s, os.Stdout)
		if err := c.Init(); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		sdnotify(daemon.SdNotifyReady)
		log.Infof("console ready, type help")
		if err := cli.MainLoop("groundstation", c.Executor(ctx), c.Completer()); err != nil {
			g.Error(err, "console")
		}
	} else {
		sdnotify(daemon.SdNotifyReady)
		log.Infof("station running")
		<-g.Alive.StopChan()
	}

	sdnotify(daemon.SdNotifyStopping)
	s.Stop()
	g.Stop()
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
