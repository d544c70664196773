package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

type GPIO struct {
	Pin string `yaml:"pin"` // e.g. GPIO18
}

type SPI struct {
	Dev     string `yaml:"dev"`      // e.g. /dev/spidev0.0
	SpeedHz int    `yaml:"speed_hz"` // nrzled only runs at 2500000
}

// NRZSpeedHz is the SPI clock the NRZ encoder is built for.
const NRZSpeedHz = 2500000

type Monitor struct {
	Addr string `yaml:"addr"` // empty disables the monitor
}

type Config struct {
	Driver    string  `yaml:"driver"` // "sim" | "gpio" | "spi" | "console"
	LEDs      int     `yaml:"leds"`
	Channels  int     `yaml:"channels"`
	Packed    bool    `yaml:"packed"`
	CoreClock string  `yaml:"core_clock"` // e.g. 32MHz
	BitRate   string  `yaml:"bit_rate"`   // e.g. 800kHz
	ResetUs   int     `yaml:"reset_us"`
	Gamma     float64 `yaml:"gamma,omitempty"` // 0 keeps the built in table
	FPS       int     `yaml:"fps"`
	Pattern   string  `yaml:"pattern"`

	GPIO    GPIO    `yaml:"gpio,omitempty"`
	SPI     SPI     `yaml:"spi,omitempty"`
	Monitor Monitor `yaml:"monitor,omitempty"`
}

// Timing is the derived pacer timing.
type Timing struct {
	Clock   physic.Frequency
	BitRate physic.Frequency
	// Period is the number of clock ticks per protocol bit.
	Period uint32
	// ResetTicks is the number of period notifications covering at least
	// ResetUs of idle line, counting the data period that precedes them.
	ResetTicks int
}

func Default() *Config {
	return &Config{
		Driver:    "sim",
		LEDs:      60,
		Channels:  1,
		CoreClock: "32MHz",
		BitRate:   "800kHz",
		ResetUs:   50,
		FPS:       30,
		Pattern:   "rgb_channels",
		GPIO:      GPIO{Pin: "GPIO18"},
		SPI:       SPI{Dev: "/dev/spidev0.0", SpeedHz: NRZSpeedHz},
	}
}

func Load(path string) (*Config, error) {
	return LoadOver(path, Default())
}

// LoadOver reads path on top of a copy of base; fields missing from the
// file keep base's values.
func LoadOver(path string, base *Config) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := *base
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks the fields every driver relies on.
func (c *Config) Validate() error {
	switch c.Driver {
	case "sim", "gpio", "spi", "console":
	default:
		return errors.Errorf("unknown driver %q", c.Driver)
	}
	if c.Driver == "spi" && c.SPI.SpeedHz != NRZSpeedHz {
		return errors.Errorf("spi.speed_hz %d unsupported, use %d", c.SPI.SpeedHz, NRZSpeedHz)
	}
	if c.LEDs < 0 {
		return errors.Errorf("invalid LED count: %d", c.LEDs)
	}
	if c.Channels < 1 || c.Channels > 8 {
		return errors.Errorf("channels %d out of range [1, 8]", c.Channels)
	}
	if c.Channels > 1 && !c.Packed {
		return errors.Errorf("%d channels need packed: true", c.Channels)
	}
	if c.FPS <= 0 {
		return errors.Errorf("invalid fps: %d", c.FPS)
	}
	if c.Gamma < 0 {
		return errors.Errorf("invalid gamma: %v", c.Gamma)
	}
	_, err := c.Timing()
	return err
}

// Timing parses the clock settings and derives the pacer period and the
// reset tick count.
func (c *Config) Timing() (Timing, error) {
	var t Timing
	if err := t.Clock.Set(c.CoreClock); err != nil {
		return t, errors.Wrapf(err, "core_clock %q", c.CoreClock)
	}
	if err := t.BitRate.Set(c.BitRate); err != nil {
		return t, errors.Wrapf(err, "bit_rate %q", c.BitRate)
	}
	if t.Clock <= 0 || t.BitRate <= 0 {
		return t, errors.Errorf("core_clock %s and bit_rate %s must be positive", t.Clock, t.BitRate)
	}
	period := t.Clock / t.BitRate
	if period < 4 || period > 255 {
		return t, errors.Errorf("core_clock %s / bit_rate %s = %d ticks, want [4, 255]", t.Clock, t.BitRate, int64(period))
	}
	t.Period = uint32(period)
	if c.ResetUs <= 0 {
		return t, errors.Errorf("invalid reset_us: %d", c.ResetUs)
	}
	bit := t.BitRate.Period()
	reset := time.Duration(c.ResetUs) * time.Microsecond
	t.ResetTicks = int((reset+bit-1)/bit) + 1
	return t, nil
}
