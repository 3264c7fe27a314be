package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/blenetcfg/internal/ble"
	"github.com/chaz8081/blenetcfg/internal/config"
	"github.com/chaz8081/blenetcfg/internal/events"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blenetcfg/config.yaml)")
	initConfig := flag.Bool("init", false, "write a default config file and exit")
	device := flag.String("device", "", "device address to provision (default: strongest matching device)")
	ssid := flag.String("ssid", "", "Wi-Fi network name (omit to only scan)")
	password := flag.String("password", "", "Wi-Fi password (empty for an open network)")
	all := flag.Bool("all", false, "list devices that do not look like NETCFG devices too")
	scanTimeout := flag.Duration("timeout", 0, "scan duration (overrides scan.timeout)")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote default config to", path)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	if *scanTimeout > 0 {
		cfg.Scan.Timeout = *scanTimeout
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation: %v", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	printBanner(cfg)

	feed := events.NewChannel(64)
	sink := events.Multi{feed, events.NewLogger(logger)}
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range feed.Events() {
			printEvent(e)
		}
	}()

	adapter := ble.NewHostAdapter()
	scanner := ble.NewScanner(adapter, ble.NameMatcher(cfg.Device.NamePattern))
	manager := ble.NewManager(adapter, scanner, sink, ble.ManagerOptions{
		ServiceUUID:    cfg.Device.ServiceUUID,
		WriteCharUUID:  cfg.Device.WriteCharUUID,
		StatusCharUUID: cfg.Device.StatusCharUUID,
		ConnectTimeout: cfg.Connect.Timeout,
		StepTimeout:    cfg.Session.StepTimeout,
		PacketDelay:    cfg.Session.PacketDelay,
	})

	// Signal handling: cancel whatever is in flight and drop the link.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
		_ = manager.Disconnect()
	}()

	code := run(ctx, scanner, manager, *device, *ssid, *password, *all, cfg.Scan.Timeout)

	_ = manager.Disconnect()
	feed.Close()
	<-printed
	os.Exit(code)
}

func run(ctx context.Context, scanner *ble.Scanner, manager *ble.Manager, device, ssid, password string, all bool, scanTimeout time.Duration) int {
	fmt.Printf("Scanning for %s...\n", scanTimeout)
	candidates, err := scanner.Scan(ctx, scanTimeout)
	if err != nil {
		if errors.Is(err, ble.ErrAdapterUnavailable) {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n\nCheck that Bluetooth is powered on and this process may use it.\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: scan failed: %v\n", err)
		}
		return 1
	}

	shown := 0
	for _, c := range candidates {
		if !c.Matched && !all {
			continue
		}
		shown++
		fmt.Println(" ", formatCandidate(c))
	}
	if shown == 0 {
		fmt.Println("  (no devices found)")
	}

	if ssid == "" {
		return 0
	}

	target := device
	if target == "" {
		target = pickDevice(candidates)
		if target == "" {
			fmt.Fprintln(os.Stderr, "ERROR: no matching device found; pass -device to choose one")
			return 1
		}
	}

	fmt.Printf("Connecting to %s...\n", target)
	if _, err := manager.Connect(ctx, target); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Printf("Provisioning %q...\n", ssid)
	out, err := manager.ConfigureWiFi(ctx, ssid, password)
	if err != nil {
		var sfe *ble.StepFailureError
		switch {
		case errors.As(err, &sfe):
			fmt.Fprintf(os.Stderr, "FAILED: device rejected %s (%s)\n", sfe.Step, sfe.Record)
		case errors.Is(err, ble.ErrStepTimeout):
			fmt.Fprintf(os.Stderr, "TIMEOUT: %v\n", err)
			if out.Last != nil {
				fmt.Fprintf(os.Stderr, "  last status from device: %s\n", out.Last)
			}
		default:
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		return 2
	}

	fmt.Printf("Done (%s). The device is rebooting onto %q.\n", out.Kind, ssid)
	return 0
}

// pickDevice returns the strongest matching candidate. Candidates arrive
// sorted by signal strength.
func pickDevice(candidates []ble.DeviceCandidate) string {
	for _, c := range candidates {
		if c.Matched {
			return c.ID
		}
	}
	return ""
}

func formatCandidate(c ble.DeviceCandidate) string {
	rssi := "   ?"
	if c.RSSI != nil {
		rssi = fmt.Sprintf("%4d", *c.RSSI)
	}
	name := c.Name
	if name == "" {
		name = "(unnamed)"
	}
	mark := " "
	if c.Matched {
		mark = "*"
	}
	return fmt.Sprintf("%s %s dBm  %-20s %s", mark, rssi, c.ID, name)
}

func printEvent(e events.Event) {
	ts := e.Time.Format("15:04:05.000")
	switch e.Kind {
	case events.KindStatusChange:
		fmt.Printf("%s  status   %s\n", ts, e.Status)
	case events.KindTransition:
		fmt.Printf("%s  step     %s\n", ts, e.Step)
	case events.KindOutcome:
		fmt.Printf("%s  outcome  %s\n", ts, e.Outcome)
	default:
		fmt.Printf("%s  %s\n", ts, e.Message)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blenetcfg ===")
	fmt.Printf("  Match:   %q\n", cfg.Device.NamePattern)
	fmt.Printf("  Service: %s\n", cfg.Device.ServiceUUID)
	fmt.Printf("  Scan:    %s\n", cfg.Scan.Timeout)
	fmt.Printf("  Step:    %s timeout\n", cfg.Session.StepTimeout)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
