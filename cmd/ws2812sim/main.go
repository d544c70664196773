package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/coreman2200/ws2812stream/gamma"
	"github.com/coreman2200/ws2812stream/internal/config"
	diag "github.com/coreman2200/ws2812stream/internal/diagnostics"
	"github.com/coreman2200/ws2812stream/internal/led"
	"github.com/coreman2200/ws2812stream/internal/loop"
	"github.com/coreman2200/ws2812stream/internal/monitor"
	"github.com/coreman2200/ws2812stream/internal/pattern"
	"github.com/coreman2200/ws2812stream/pixel"
	"github.com/coreman2200/ws2812stream/sim"
	"github.com/coreman2200/ws2812stream/transfer"
	"github.com/coreman2200/ws2812stream/txbuf"
)

func main() {
	// ---- Flags (config.yaml overrides what it sets) ----
	def := config.Default()
	var (
		driver     = flag.String("driver", def.Driver, "driver: sim | gpio | spi | console")
		leds       = flag.Int("leds", def.LEDs, "LEDs per channel")
		channels   = flag.Int("channels", def.Channels, "parallel strips (needs -packed above 1)")
		packed     = flag.Bool("packed", def.Packed, "drive channels as bit planes of one DMA stream")
		coreClock  = flag.String("core-clock", def.CoreClock, "timer clock, e.g. 32MHz")
		bitRate    = flag.String("bit-rate", def.BitRate, "protocol bit rate, e.g. 800kHz")
		resetUs    = flag.Int("reset-us", def.ResetUs, "idle time after the last pixel (µs)")
		gammaExp   = flag.Float64("gamma", def.Gamma, "gamma exponent; 0 keeps the built in table")
		fps        = flag.Int("fps", def.FPS, "target frames per second")
		pat        = flag.String("pattern", def.Pattern, "pattern: solid | index_sweep | rgb_channels | rainbow")
		frames     = flag.Int("frames", 0, "stop after this many frames; 0 runs until interrupted")
		gpioPin    = flag.String("gpio-pin", def.GPIO.Pin, "GPIO pin for driver=gpio")
		spiDev     = flag.String("spi-dev", def.SPI.Dev, "SPI port for driver=spi")
		spiSpeed   = flag.Int("spi-speed", def.SPI.SpeedHz, "SPI clock in Hz for driver=spi (2500000 only)")
		addr       = flag.String("addr", def.Monitor.Addr, "monitor listen address; empty disables it")
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		saveConfig = flag.Bool("save-config", false, "write the effective config to -config and exit")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := &config.Config{
		Driver:    *driver,
		LEDs:      *leds,
		Channels:  *channels,
		Packed:    *packed,
		CoreClock: *coreClock,
		BitRate:   *bitRate,
		ResetUs:   *resetUs,
		Gamma:     *gammaExp,
		FPS:       *fps,
		Pattern:   *pat,
		GPIO:      config.GPIO{Pin: *gpioPin},
		SPI:       config.SPI{Dev: *spiDev, SpeedHz: *spiSpeed},
		Monitor:   config.Monitor{Addr: *addr},
	}
	if *saveConfig {
		if err := config.Save(*configPath, cfg); err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("save config")
		}
		log.Info().Str("path", *configPath).Msg("config written")
		return
	}
	if c, err := config.LoadOver(*configPath, cfg); err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
	} else {
		cfg = c
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	tm, _ := cfg.Timing()
	lut, err := gammaTable(cfg.Gamma)
	if err != nil {
		log.Fatal().Err(err).Msg("gamma")
	}
	kind, err := pattern.Parse(cfg.Pattern)
	if err != nil {
		log.Fatal().Err(err).Msg("pattern")
	}

	mon := monitor.NewState(monitor.Info{
		NumPixels: cfg.LEDs,
		Channels:  cfg.Channels,
		FPS:       cfg.FPS,
		Pattern:   string(kind),
	}, &log.Logger)
	for _, d := range diag.Timing(cfg, tm) {
		logDiag(d)
		mon.PushDiag(d)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	out, err := open(ctx, g, cfg, tm, lut, mon)
	if err != nil {
		log.Fatal().Err(err).Msg("driver")
	}
	mon.SetDriver(out.name)
	log.Info().
		Str("driver", out.name).
		Int("leds", cfg.LEDs).
		Int("channels", cfg.Channels).
		Uint32("period", tm.Period).
		Int("reset_ticks", tm.ResetTicks).
		Msg("output ready")

	runner := pattern.NewRunner(pattern.Plan{Kind: kind, Color: [3]byte{255, 255, 255}, Steps: *frames})
	l := loop.New(out.drv, runner, loop.Opts{
		FPS:       cfg.FPS,
		NumPixels: cfg.LEDs * cfg.Channels,
		Repeat:    *frames == 0,
		OnFrame:   out.onFrame,
		Logger:    &log.Logger,
	})
	g.Go(func() error {
		defer stop()
		return l.Run(ctx)
	})

	if cfg.Monitor.Addr != "" {
		srv := &http.Server{
			Addr:         cfg.Monitor.Addr,
			Handler:      mon.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Monitor.Addr).Msg("monitor starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "monitor")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	// ---- Graceful shutdown ----
	err = g.Wait()
	if cerr := out.drv.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("close driver")
	}
	written, failed := l.Frames()
	log.Info().Uint64("frames", written).Uint64("failed", failed).Msg("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exit")
	}
}

type output struct {
	name    string
	drv     led.Driver
	onFrame func(id uint64, rgb []byte, err error)
}

// open selects the configured driver, falling back to the simulator when
// the hardware is not there.
func open(ctx context.Context, g *errgroup.Group, cfg *config.Config, tm config.Timing, lut *gamma.Table, mon *monitor.State) (*output, error) {
	hw := func() bool {
		if _, err := host.Init(); err != nil {
			log.Warn().Err(err).Msg("host init failed; falling back to SIM")
			return false
		}
		return true
	}
	passthrough := func(id uint64, rgb []byte, err error) {
		if err == nil {
			mon.PublishFrame(0, rgb)
		}
	}

	switch cfg.Driver {
	case "gpio":
		if cfg.Channels > 1 {
			log.Warn().Int("channels", cfg.Channels).Msg("driver=gpio streams one channel; using SIM instead")
			break
		}
		if !hw() {
			break
		}
		p := gpioreg.ByName(cfg.GPIO.Pin)
		if p == nil {
			log.Warn().Str("pin", cfg.GPIO.Pin).Msg("GPIO pin not found; falling back to SIM")
			break
		}
		d, err := led.NewStream(p, &led.StreamOpts{
			NumPixels:  cfg.LEDs,
			Clock:      tm.Clock,
			BitRate:    tm.BitRate,
			ResetTicks: tm.ResetTicks,
			Gamma:      lut,
		})
		if err != nil {
			log.Warn().Err(err).Str("driver", "gpio").Msg("stream init failed; falling back to SIM")
			break
		}
		return &output{name: "gpio", drv: d, onFrame: passthrough}, nil

	case "spi":
		if cfg.Channels > 1 {
			log.Warn().Int("channels", cfg.Channels).Msg("driver=spi drives one channel; using SIM instead")
			break
		}
		if !hw() {
			break
		}
		speed := physic.Frequency(cfg.SPI.SpeedHz) * physic.Hertz
		d, err := led.OpenNRZ(cfg.SPI.Dev, cfg.LEDs, speed, lut)
		if err != nil {
			log.Warn().Err(err).
				Str("driver", "spi").
				Str("dev", cfg.SPI.Dev).
				Int("speed_hz", cfg.SPI.SpeedHz).
				Msg("SPI init failed; falling back to SIM")
			break
		}
		return &output{name: "spi", drv: d, onFrame: passthrough}, nil

	case "console":
		return &output{name: "console", drv: led.NewConsole(cfg.LEDs * cfg.Channels), onFrame: passthrough}, nil
	}
	return openSim(ctx, g, cfg, tm, lut, mon)
}

func openSim(ctx context.Context, g *errgroup.Group, cfg *config.Config, tm config.Timing, lut *gamma.Table, mon *monitor.State) (*output, error) {
	rec := &sim.Recorder{}
	p, err := sim.New(tm.Clock, tm.BitRate, rec)
	if err != nil {
		return nil, err
	}
	layout := txbuf.Compare
	if cfg.Packed {
		layout = txbuf.Planes
	}
	d, err := led.NewEngine(p, &led.EngineOpts{
		Channels: cfg.Channels,
		Transfer: transfer.Config{
			ChainLength: cfg.LEDs,
			ResetTicks:  tm.ResetTicks,
			Layout:      layout,
			Gamma:       lut,
			Logger:      &log.Logger,
		},
	})
	if err != nil {
		return nil, err
	}
	eng := d.Transfer()
	p.Attach(eng)
	g.Go(func() error { return p.Run(ctx) })

	every := uint64(max(1, cfg.FPS))
	onFrame := func(id uint64, _ []byte, err error) {
		mon.PublishStats(eng.Stats(), eng.Phase())
		if id%every == 0 {
			st := eng.Stats()
			log.Info().
				Uint64("transfers", st.Transfers).
				Uint64("pixels", st.Pixels).
				Uint64("overruns", st.Overruns).
				Uint64("ticks", p.Ticks()).
				Msg("stats")
		}
		if err != nil {
			rec.Reset()
			return
		}
		// The pacer is halted once Write returns, so the recording holds
		// exactly this frame.
		samples := rec.Samples()
		rec.Reset()
		for ch := 0; ch < d.Channels(); ch++ {
			got := sim.Decode(samples, eng.Encoder(), ch, tm.ResetTicks-1)
			if len(got) == 0 {
				continue
			}
			mon.PublishFrame(ch, flatten(got[len(got)-1], cfg.LEDs))
		}
	}
	return &output{name: "sim", drv: d, onFrame: onFrame}, nil
}

// flatten drops the trailing off pixel an odd chain carries.
func flatten(px []pixel.RGB, n int) []byte {
	if len(px) > n {
		px = px[:n]
	}
	f := pixel.NewFrame(len(px))
	for i, p := range px {
		f.Set(i, p)
	}
	return f
}

func gammaTable(exp float64) (*gamma.Table, error) {
	if exp == 0 {
		return &gamma.Default, nil
	}
	t, err := gamma.Curve(exp)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func logDiag(d diag.Diagnostic) {
	var e *zerolog.Event
	switch d.Severity {
	case diag.Err:
		e = log.Error()
	case diag.Warn:
		e = log.Warn()
	default:
		e = log.Info()
	}
	e.Str("code", d.Code).Fields(d.Evidence).Msg(d.Summary)
}
