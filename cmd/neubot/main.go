package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/dalnet/neubot/internal/acl"
	"github.com/dalnet/neubot/internal/config"
	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/irc"
	"github.com/dalnet/neubot/internal/plugin"
	"github.com/dalnet/neubot/internal/storage"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

var (
	configPath string
	pidPath    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "neubot",
	Short:        "A multi-network IRC bot",
	Version:      fmt.Sprintf("%s (built %s, commit %s)", version, buildDate, gitCommit),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		irc.Version = version
		irc.BuildDate = buildDate
		irc.GitCommit = gitCommit

		if !filepath.IsAbs(configPath) {
			wd, _ := os.Getwd()
			configPath = filepath.Join(wd, configPath)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		logger, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		if pidPath != "" {
			if err := writePIDFile(pidPath); err != nil {
				logger.Warn("could not write PID file", zap.String("path", pidPath), zap.Error(err))
			} else {
				defer os.Remove(pidPath)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, zcfg.Level, logger)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	rootCmd.Flags().StringVar(&pidPath, "pid", "", "Write the process id to this file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func run(ctx context.Context, cfg *config.Config, level zap.AtomicLevel, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	access, err := acl.Open(cfg.ACLDB, cfg.Masters, logger.Named("acl"))
	if err != nil {
		return err
	}
	defer access.Close()

	driver, err := storage.Open(cfg.Datastore)
	if err != nil {
		return err
	}
	defer driver.Close()

	bus := event.NewBus(logger.Named("bus"),
		event.WithPrefix(cfg.CommandPrefix),
		event.WithAuthorizer(access))

	plugins := plugin.NewRegistry(bus, cfg, driver, logger.Named("plugin"))
	plugins.Provide(plugin.CoreName, func() plugin.Plugin { return plugin.NewCore(plugins, level) })
	plugins.Provide(plugin.ACLName, func() plugin.Plugin { return plugin.NewACL(access) })
	for _, name := range cfg.Plugins {
		if err := plugins.Load(name); err != nil {
			logger.Error("plugin not loaded", zap.String("plugin", name), zap.Error(err))
		}
	}
	defer plugins.UnloadAll()

	quit := make(chan string, 1)
	bus.RegisterSystemEvent(event.SystemQuit, func(payload any) error {
		reason, _ := payload.(string)
		select {
		case quit <- reason:
		default:
		}
		return nil
	}, "main")
	defer bus.ReleaseRelated("main")

	conns := make([]*irc.Connection, 0, len(cfg.Networks))
	for _, network := range cfg.Networks {
		conns = append(conns, irc.NewConnection(network, cfg.IRC, bus, logger.Named("irc")))
	}

	// A failed first dial already schedules its own retry.
	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(func() error {
			if err := c.Connect(); err != nil {
				logger.Warn("initial connection failed", zap.String("network", c.Network()), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	reason := "Received shutdown signal"
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case r := <-quit:
		if r != "" {
			reason = r
		}
		logger.Info("quit requested", zap.String("reason", reason))
	}

	shutdown(conns, reason, cfg.IRC.DisconnectTimeout, logger)

	idle, cancel := context.WithTimeout(context.Background(), cfg.IRC.DisconnectTimeout)
	defer cancel()
	if err := bus.WaitForIdle(idle); err != nil {
		logger.Warn("handlers still running at exit", zap.Int("in_flight", bus.InFlight()))
	}
	return nil
}

// shutdown sends QUIT on every network, gives the queues a bounded chance
// to drain, then closes the connections.
func shutdown(conns []*irc.Connection, reason string, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.Quit(reason)
			if err := c.Flush(gctx); err != nil {
				logger.Warn("output queue not drained", zap.String("network", c.Network()), zap.Error(err))
			}
			if err := c.Close(); err != nil {
				logger.Warn("disconnect failed", zap.String("network", c.Network()), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()
}
