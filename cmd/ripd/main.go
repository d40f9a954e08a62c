// Command ripd is a minimal wiring entry point for the engine: it
// parses a handful of flags into a config.Snapshot, starts the engine,
// and stops it on SIGINT/SIGTERM. Real deployments are expected to
// replace this with a proper config file loader and admin surface
// (koanf, cobra, an HTTP/SSE layer) driving the same engine.Engine API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/katrip/ripd/clock"
	"github.com/katrip/ripd/config"
	"github.com/katrip/ripd/engine"
	"github.com/katrip/ripd/metrics"
)

func main() {
	var (
		routerID     = flag.String("router-id", "0.0.0.0", "router identifier")
		ifaceFlag    = flag.String("interfaces", "", "comma-separated name=cidr[:cost] list, e.g. eth0=10.0.0.0/24:1")
		port         = flag.Int("port", 520, "RIP UDP port")
		updateEvery  = flag.Duration("update-interval", 30*time.Second, "periodic update interval")
		gcTimeout    = flag.Duration("gc-timeout", 120*time.Second, "garbage collection timeout")
		splitHorizon = flag.Bool("split-horizon", true, "enable split horizon")
		poisonRev    = flag.Bool("poison-reverse", true, "enable poison reverse (requires split horizon)")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Default()
	cfg.RouterID = *routerID
	cfg.Port = uint16(*port)
	cfg.UpdateInterval = *updateEvery
	cfg.GarbageCollectionTimeout = *gcTimeout
	cfg.SplitHorizon = *splitHorizon
	cfg.PoisonReverse = *poisonRev
	cfg.Interfaces, err = parseInterfaces(*ifaceFlag)
	if err != nil {
		logger.Fatal("bad -interfaces flag", zap.Error(err))
	}

	reg := metrics.NewProm(prometheus.DefaultRegisterer)
	e := engine.New(logger, reg, clock.Real{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ripd",
		zap.String("router_id", cfg.RouterID),
		zap.Int("interfaces", len(cfg.Interfaces)))

	if err := e.Run(ctx, cfg); err != nil {
		logger.Error("engine exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("ripd stopped")
}

// parseInterfaces parses "name=cidr[:cost],name=cidr[:cost],..." into
// InterfaceConfigs. This is the kind of parsing a real config loader
// would do from a file; it lives here only because flag parsing is the
// whole of this command's job.
func parseInterfaces(s string) ([]config.InterfaceConfig, error) {
	if s == "" {
		return nil, nil
	}
	var out []config.InterfaceConfig
	for _, part := range strings.Split(s, ",") {
		nameCIDR := strings.SplitN(part, "=", 2)
		if len(nameCIDR) != 2 {
			return nil, errBadInterfaceSpec(part)
		}
		cidrCost := strings.SplitN(nameCIDR[1], ":", 2)
		cost := 1
		if len(cidrCost) == 2 {
			c, err := strconv.Atoi(cidrCost[1])
			if err != nil {
				return nil, errBadInterfaceSpec(part)
			}
			cost = c
		}
		out = append(out, config.InterfaceConfig{
			Name:    nameCIDR[0],
			CIDR:    cidrCost[0],
			Enabled: true,
			Cost:    cost,
		})
	}
	return out, nil
}

type errBadInterfaceSpec string

func (e errBadInterfaceSpec) Error() string {
	return "expected name=cidr[:cost], got " + string(e)
}
