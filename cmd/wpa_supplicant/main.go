// Command wpa_supplicant negotiates WPA and RSN security for a wireless
// interface using nl80211.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mdlayher/wpa"
	"github.com/mdlayher/wpa/internal/config"
)

// version is set at link time.
var version = "devel"

type options struct {
	iface   string
	config  string
	debug   int
	quiet   int
	preauth bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:           "wpa_supplicant",
		Short:         "WPA/RSN supplicant for nl80211 wireless interfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}

	addFlags(cmd.Flags(), &o)
	_ = cmd.MarkFlagRequired("interface")
	_ = cmd.MarkFlagRequired("config")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wpa_supplicant", version)
		},
	})

	return cmd
}

func addFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVarP(&o.iface, "interface", "i", "", "wireless interface to manage")
	fs.StringVarP(&o.config, "config", "c", "", "configuration file")
	fs.CountVarP(&o.debug, "debug", "d", "increase logging verbosity (repeatable)")
	fs.CountVarP(&o.quiet, "quiet", "q", "decrease logging verbosity (repeatable)")
	fs.BoolVar(&o.preauth, "preauth", true, "enable RSN pre-authentication")
}

// newLogger builds a logger at info level, lowered once per debug and
// raised once per quiet.
func newLogger(debug, quiet int) (*zap.Logger, error) {
	level := zapcore.InfoLevel + zapcore.Level(quiet-debug)
	if level < zapcore.DebugLevel {
		level = zapcore.DebugLevel
	}
	if level > zapcore.FatalLevel {
		level = zapcore.FatalLevel
	}

	cfg := zap.NewProductionConfig()
	if debug > 0 {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}

func run(ctx context.Context, o options) error {
	log, err := newLogger(o.debug, o.quiet)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	f, err := config.Load(o.config, log)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	profiles, err := f.Profiles()
	if err != nil {
		return err
	}

	d, err := wpa.DialNL80211(o.iface)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", o.iface, err)
	}
	defer d.Close()
	ifi := d.Interface()

	tx, err := wpa.ListenPacket(ifi.Index, layers.EthernetTypeEAPOL)
	if err != nil {
		return fmt.Errorf("failed to open EAPOL socket: %w", err)
	}
	defer tx.Close()

	loop := wpa.NewLoop()
	cfg := wpa.Config{
		Profiles:     profiles,
		OwnAddr:      ifi.HardwareAddr,
		EAPOLVersion: f.EAPOLVersion,
		Driver:       d,
		Transport:    tx,
		Scheduler:    loop,
		Port:         newLogPort(log),
		Logger:       log.With(zap.String("interface", ifi.Name)),
	}

	var preauth *wpa.PacketConn
	if o.preauth {
		preauth, err = wpa.ListenPacket(ifi.Index, wpa.EthernetTypeRSNPreauth)
		if err != nil {
			return fmt.Errorf("failed to open pre-authentication socket: %w", err)
		}
		defer preauth.Close()
		cfg.PreauthTransport = preauth
	}

	s, err := wpa.NewSession(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(ctx, s)
	})
	g.Go(func() error {
		return d.Events(ctx, func(ev wpa.Event) {
			_ = loop.Post(ctx, ev)
		})
	})
	g.Go(func() error {
		return tx.Receive(ctx, func(src net.HardwareAddr, frame []byte) {
			_ = loop.Post(ctx, wpa.EventEAPOL{Source: src, Frame: frame})
		})
	})
	if preauth != nil {
		g.Go(func() error {
			return preauth.Receive(ctx, func(src net.HardwareAddr, frame []byte) {
				_ = loop.Post(ctx, wpa.EventEAPOL{Source: src, Frame: frame, Preauth: true})
			})
		})
	}
	g.Go(func() error {
		return watchConfig(ctx, o.config, log, func(ps []wpa.NetworkProfile) {
			_ = loop.Do(ctx, func(s *wpa.Session) { s.Reconfigure(ps) })
		})
	})

	log.Info("started", zap.String("interface", ifi.Name), zap.Stringer("addr", ifi.HardwareAddr))
	return g.Wait()
}

// watchConfig reloads the configuration file on SIGHUP or when it changes
// and passes the new profiles to apply. A file which fails to load is
// logged and the previous configuration stays in effect.
func watchConfig(ctx context.Context, path string, log *zap.Logger, apply func([]wpa.NetworkProfile)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory so that files replaced by rename are seen.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reload := func(reason string) {
		log.Debug("reloading configuration", zap.String("reason", reason))

		f, err := config.Load(path, log)
		if err == nil {
			var ps []wpa.NetworkProfile
			if ps, err = f.Profiles(); err == nil {
				apply(ps)
				return
			}
		}

		log.Error("failed to reload configuration, keeping previous", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			reload("SIGHUP")
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload(ev.Op.String())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("configuration watcher error", zap.Error(err))
		}
	}
}
