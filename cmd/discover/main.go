package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"go.uber.org/zap"
)

// discover lists the Speedwire devices answering a multicast probe.
func main() {
	repeats := flag.Int("repeats", 3, "number of probes")
	wait := flag.Duration("wait", 500*time.Millisecond, "time to wait for answers after the last probe")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	zapCfg := zap.NewDevelopmentConfig()
	if !*verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	opts := speedwire.DefaultDiscoveryOptions()
	opts.Repeats = *repeats
	opts.Wait = *wait

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Repeats)*opts.Interval+opts.Wait+5*time.Second)
	defer cancel()

	found, err := speedwire.Discover(ctx, opts, logger)
	if err != nil {
		slog.Error("discovery failed", "error", err)
		os.Exit(1)
	}
	if len(found) == 0 {
		fmt.Println("no devices found")
		return
	}
	for _, addr := range found {
		fmt.Println(addr)
	}
}
