package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gammasense/gammalink/internal/config"
	"github.com/gammasense/gammalink/internal/device"
	"github.com/gammasense/gammalink/internal/protocol"
	"github.com/gammasense/gammalink/internal/storage"
)

const VERSION = "1.0.0"

func main() {
	var (
		configFile = flag.String("config", "", "path to INI configuration file")
		transport  = flag.String("transport", "", "transport override: auto, usb or ble")
		mode       = flag.String("mode", "info", "one of: info, monitor, spectrum, spectrum-accum, reset-spectrum, limits")
		dbPath     = flag.String("db", "", "override the sample database path")
		debug      = flag.Bool("debug", false, "enable protocol debug logging")
	)
	flag.Parse()

	cfg := config.NewConfig(*configFile)
	if *configFile != "" {
		if err := cfg.Load(); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	kind := pickTransport(cfg, *transport)

	log.Printf("gammalink %s starting (transport %s, mode %s)", VERSION, transportName(kind), *mode)

	// Shut down cleanly on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received %s, shutting down", sig)
		cancel()
	}()

	opts := []device.Option{
		device.WithTimeout(time.Duration(cfg.GetTimeoutSeconds()) * time.Second),
		device.WithSpectrumFormat(int(cfg.GetSpectrumFormat())),
	}
	if cfg.GetDoseRateScale() != 0 {
		opts = append(opts, device.WithDoseRateScale(cfg.GetDoseRateScale()))
	}
	if cfg.GetDeviceDebug() || *debug {
		opts = append(opts, device.WithDebug(true))
	}

	session, err := device.Connect(ctx, kind, cfg.GetUSBDebug() || cfg.GetBLEDebug() || *debug, opts...)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer session.Close()

	log.Printf("Connected over %s", session.TransportKind())
	if msg := session.Message(); msg != "" {
		log.Printf("Device message: %s", msg)
	}

	switch *mode {
	case "info":
		err = runInfo(ctx, session)
	case "monitor":
		err = runMonitor(ctx, session, cfg, *dbPath)
	case "spectrum":
		err = runSpectrum(ctx, session, cfg, *dbPath, false)
	case "spectrum-accum":
		err = runSpectrum(ctx, session, cfg, *dbPath, true)
	case "reset-spectrum":
		err = session.SpectrumReset(ctx)
	case "limits":
		err = runLimits(ctx, session)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil && err != context.Canceled {
		log.Fatalf("%s: %v", *mode, err)
	}
}

func pickTransport(cfg *config.Config, override string) device.ConnectionKind {
	choice := cfg.GetTransport()
	if override != "" {
		choice = override
	}
	switch choice {
	case "usb":
		return device.ConnectUSB
	case "ble":
		return device.ConnectBLE
	default:
		return device.ConnectAuto
	}
}

func transportName(kind device.ConnectionKind) string {
	switch kind {
	case device.ConnectUSB:
		return "usb"
	case device.ConnectBLE:
		return "ble"
	default:
		return "auto"
	}
}

func runInfo(ctx context.Context, session *device.Session) error {
	version, err := session.Version(ctx)
	if err != nil {
		return err
	}
	serial, err := session.Serial(ctx)
	if err != nil {
		return err
	}
	status, err := session.DeviceStatus(ctx)
	if err != nil {
		return err
	}
	a0, a1, a2, err := session.EnergyCalibration(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Serial:      %s\n", serial)
	fmt.Printf("Bootloader:  %d.%d\n", version.BootMajor, version.BootMinor)
	fmt.Printf("Firmware:    %d.%d (%s)\n", version.FirmMajor, version.FirmMinor, version.BuildDate)
	fmt.Printf("Status:      0x%08X\n", status)
	fmt.Printf("Calibration: a0=%.4f a1=%.4f a2=%.6f\n", a0, a1, a2)
	return nil
}

func runMonitor(ctx context.Context, session *device.Session, cfg *config.Config, dbPath string) error {
	var sink *storage.SampleRepository
	if cfg.GetStorageEnabled() || dbPath != "" {
		path := cfg.GetStoragePath()
		if dbPath != "" {
			path = dbPath
		}
		db, err := storage.NewDB(storage.Config{Path: path}, log.Default())
		if err != nil {
			return fmt.Errorf("open sample database: %w", err)
		}
		defer db.Close()
		sink = storage.NewSampleRepository(db.GetDB(), int(cfg.GetStorageBatch()))
		defer sink.Flush()
	}

	interval := time.Duration(cfg.GetMonitorInterval()) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	var deadline <-chan time.Time
	if d := cfg.GetMonitorDuration(); d > 0 {
		deadline = time.After(time.Duration(d) * time.Second)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		case <-ticker.C:
		}

		var records []protocol.Record
		var err error
		if sink != nil {
			records, err = session.DrainTelemetry(ctx, sink)
		} else {
			records, err = session.ReadTelemetry(ctx)
		}
		if err != nil {
			return err
		}

		for _, rec := range records {
			switch r := rec.(type) {
			case protocol.RealTimeData:
				fmt.Printf("%s  %8.2f cps (±%4.1f%%)  %10.4f (±%4.1f%%)\n",
					r.Timestamp.Format("15:04:05"), r.CountRate, r.CountRateErr,
					r.DoseRate, r.DoseRateErr)
			case protocol.RareData:
				fmt.Printf("%s  dose=%.6f  temp=%.1f°C  battery=%.1f%%\n",
					r.Timestamp.Format("15:04:05"), r.Dose, r.Temperature, r.ChargeLevel)
			}
		}
	}
}

func runSpectrum(ctx context.Context, session *device.Session, cfg *config.Config, dbPath string, accumulated bool) error {
	var spectrum *protocol.Spectrum
	var err error
	if accumulated {
		spectrum, err = session.AccumulatedSpectrum(ctx)
	} else {
		spectrum, err = session.Spectrum(ctx)
	}
	if err != nil {
		return err
	}

	if cfg.GetStorageEnabled() || dbPath != "" {
		path := cfg.GetStoragePath()
		if dbPath != "" {
			path = dbPath
		}
		db, err := storage.NewDB(storage.Config{Path: path}, log.Default())
		if err != nil {
			return fmt.Errorf("open sample database: %w", err)
		}
		defer db.Close()
		repo := storage.NewSampleRepository(db.GetDB(), 1)
		if err := repo.SaveSpectrum(spectrum, accumulated); err != nil {
			return fmt.Errorf("save spectrum snapshot: %w", err)
		}
	}

	fmt.Printf("Live time:   %s\n", spectrum.Duration)
	fmt.Printf("Calibration: a0=%.4f a1=%.4f a2=%.6f\n", spectrum.A0, spectrum.A1, spectrum.A2)
	fmt.Printf("Channels:    %d, total counts %d\n", len(spectrum.Counts), spectrum.TotalCounts())
	for ch, count := range spectrum.Counts {
		if count == 0 {
			continue
		}
		fmt.Printf("%4d  %8.1f keV  %d\n", ch, spectrum.ChannelEnergy(ch), count)
	}
	return nil
}

func runLimits(ctx context.Context, session *device.Session) error {
	limits, err := session.AlarmLimits(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Count rate:  L1=%.1f %s  L2=%.1f %s\n",
		limits.CountRateL1, limits.CountUnit, limits.CountRateL2, limits.CountUnit)
	fmt.Printf("Dose rate:   L1=%.4f %s/h  L2=%.4f %s/h\n",
		limits.DoseRateL1, limits.DoseUnit, limits.DoseRateL2, limits.DoseUnit)
	fmt.Printf("Dose:        L1=%.4f %s  L2=%.4f %s\n",
		limits.DoseL1, limits.DoseUnit, limits.DoseL2, limits.DoseUnit)
	return nil
}
