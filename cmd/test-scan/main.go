// Command test-scan is a manual test for BLE discovery and the status
// channel. It scans, optionally connects to a device and prints every status
// notification until Ctrl+C.
//
// Usage:
//
//	go run ./cmd/test-scan [--timeout 5s] [--device ADDR]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/blenetcfg/internal/ble"
	"github.com/chaz8081/blenetcfg/internal/events"
)

func main() {
	timeout := flag.Duration("timeout", ble.DefaultScanTimeout, "scan duration")
	device := flag.String("device", "", "connect to this address and watch status notifications")
	pattern := flag.String("match", ble.DefaultNamePattern, "name substring that marks a device as a match")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		cancel()
	}()

	adapter := ble.NewHostAdapter()
	scanner := ble.NewScanner(adapter, ble.NameMatcher(*pattern))

	fmt.Printf("Scanning for %s...\n", *timeout)
	found, err := scanner.Scan(ctx, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}
	for _, c := range found {
		rssi := "?"
		if c.RSSI != nil {
			rssi = fmt.Sprint(*c.RSSI)
		}
		fmt.Printf("  matched=%-5v rssi=%-4s %s %q\n", c.Matched, rssi, c.ID, c.Name)
	}
	if *device == "" {
		return
	}

	feed := events.NewChannel(32)
	manager := ble.NewManager(adapter, scanner, feed, ble.DefaultManagerOptions())
	link, err := manager.Connect(ctx, *device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Connected to %s. Watching status. Press Ctrl+C to exit.\n", link.Address())

	go func() {
		for e := range feed.Events() {
			fmt.Printf("%-10s %s\n", e.Kind, e.Message)
		}
	}()

	select {
	case <-ctx.Done():
	case <-link.Done():
		fmt.Println("Link closed:", link.Err())
	}
	_ = manager.Disconnect()
	feed.Close()
	fmt.Println("Done.")
}
