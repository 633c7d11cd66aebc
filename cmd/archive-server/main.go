// archive-server runs the Merkle-tree file archive service: an Engine bound
// to a database snapshot and a blob store, exposed over the transport's
// length-prefixed RPC protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"k8s.io/klog/v2"

	"github.com/archiveproof/archiveproof/internal/config"
	"github.com/archiveproof/archiveproof/internal/engine"
	"github.com/archiveproof/archiveproof/internal/service"
	"github.com/archiveproof/archiveproof/internal/telemetry"
	"github.com/archiveproof/archiveproof/internal/transport"
)

func main() {
	klog.InitFlags(nil)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		klog.Exitf("Failed to load configuration: %v", err)
	}

	telemetry.Setup(cfg.Tracing, cfg.TracingLevel)

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	eng, err := engine.Open(cfg.DBPath, cfg.FilesDir, metrics)
	if err != nil {
		klog.Exitf("Failed to open archive engine at %q / %q: %v", cfg.DBPath, cfg.FilesDir, err)
	}

	srv := service.NewServer(eng)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	printBanner(addr, cfg, eng.Count(context.Background()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		klog.Infof("archive-server: listening on %s (db=%s, files=%s)", addr, cfg.DBPath, cfg.FilesDir)
		errc <- transport.ListenAndServe(addr, srv)
	}()

	select {
	case <-ctx.Done():
		klog.Info("archive-server: shutdown signal received")
		if err := eng.Flush(); err != nil {
			klog.Warningf("archive-server: final flush failed: %v", err)
		}
	case err := <-errc:
		klog.Exitf("archive-server: listener failed: %v", err)
	}
}

// printBanner prints a one-time startup summary. Decorative only; no
// archive logic lives here.
func printBanner(addr string, cfg config.Config, count uint64) {
	pterm.DefaultBigText.WithLetters(pterm.NewLettersFromStringWithStyle("archive", pterm.NewStyle(pterm.FgCyan))).Render()
	pterm.DefaultBulletList.WithItems([]pterm.BulletListItem{
		{Level: 0, Text: fmt.Sprintf("listening on %s", addr)},
		{Level: 0, Text: fmt.Sprintf("database: %s", cfg.DBPath)},
		{Level: 0, Text: fmt.Sprintf("files: %s", cfg.FilesDir)},
		{Level: 0, Text: fmt.Sprintf("entries loaded: %d", count)},
	}).Render()
}
