package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/john/beeprint/bee"
	"github.com/john/beeprint/gcode"
	"github.com/john/beeprint/printer"
)

const defaultConfigPath = "beeprint.yaml"

type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Session  SessionConfig  `yaml:"session"`
	Transfer TransferConfig `yaml:"transfer"`
	Heating  HeatingConfig  `yaml:"heating"`
	Print    PrintConfig    `yaml:"print"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Files    FilesConfig    `yaml:"files"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

type DeviceConfig struct {
	// Port is the serial device. Empty picks the first attached printer.
	Port           string        `yaml:"port"`
	Backend        string        `yaml:"backend"`
	Baud           int           `yaml:"baud"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type SessionConfig struct {
	SettleInterval    time.Duration `yaml:"settle_interval"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ShutdownClearWait time.Duration `yaml:"shutdown_clear_wait"`
}

type TransferConfig struct {
	NamePolicy   string        `yaml:"name_policy"`
	FixedName    string        `yaml:"fixed_name"`
	Header       bool          `yaml:"header"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type HeatingConfig struct {
	DefaultTemperature float64       `yaml:"default_temperature"`
	Timeout            time.Duration `yaml:"timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	Tolerance          float64       `yaml:"tolerance"`
	ReportDelta        float64       `yaml:"report_delta"`
}

type PrintConfig struct {
	CommandSettle time.Duration `yaml:"command_settle"`
	ProbeRounds   int           `yaml:"probe_rounds"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	Strategies    []string      `yaml:"strategies"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Listen is the HTTP address of the status feed; empty disables it.
	Listen     string `yaml:"listen"`
	MaxUnknown int    `yaml:"max_unknown"`
}

type FilesConfig struct {
	// GCodeDir is the local directory G-code files are picked from.
	GCodeDir string `yaml:"gcode_dir"`
	// DoneDir receives files the hot folder has printed.
	DoneDir string `yaml:"done_dir"`
}

type HistoryConfig struct {
	// DataDir holds the job journal; empty disables it.
	DataDir string `yaml:"data_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

func DefaultConfig() *Config {
	sess := printer.DefaultSessionConfig()
	port := bee.DefaultPortConfig("")
	return &Config{
		Device: DeviceConfig{
			Backend:        port.Backend,
			Baud:           port.Baud,
			ReadTimeout:    port.ReadTimeout,
			CommandTimeout: bee.DefaultCommandTimeout,
		},
		Session: SessionConfig{
			SettleInterval:    sess.SettleInterval,
			ReconnectAttempts: sess.ReconnectAttempts,
			ReconnectInterval: sess.ReconnectInterval,
			ShutdownClearWait: sess.ShutdownClearWait,
		},
		Transfer: TransferConfig{
			NamePolicy:   string(printer.NameFixed),
			FixedName:    printer.DefaultFixedName,
			Header:       false,
			PollInterval: sess.TransferPoll,
		},
		Heating: HeatingConfig{
			DefaultTemperature: gcode.DefaultTemperature,
			Timeout:            5 * time.Minute,
			PollInterval:       sess.Heat.PollInterval,
			Tolerance:          sess.Heat.Tolerance,
			ReportDelta:        sess.Heat.ReportDelta,
		},
		Print: PrintConfig{
			CommandSettle: sess.Sequencer.CommandSettle,
			ProbeRounds:   sess.Sequencer.ProbeRounds,
			ProbeInterval: sess.Sequencer.ProbeInterval,
			Strategies:    strategyNames(sess.Sequencer.Strategies),
		},
		Monitor: MonitorConfig{
			Interval:   7 * time.Second,
			MaxUnknown: 3,
		},
		Files: FilesConfig{
			GCodeDir: "gcodes",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path over the defaults. A missing file at the default
// path is not an error; an explicitly given one is.
func LoadConfig(path string, explicit bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, cfg.resolve()
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.resolve()
}

// resolve validates enumerations and makes directories absolute.
func (c *Config) resolve() error {
	switch c.Device.Backend {
	case "", bee.BackendBugst, bee.BackendTarm:
	default:
		return fmt.Errorf("unknown serial backend %q", c.Device.Backend)
	}
	switch printer.NamePolicy(c.Transfer.NamePolicy) {
	case printer.NameFixed, printer.NameDerived:
	default:
		return fmt.Errorf("unknown name policy %q", c.Transfer.NamePolicy)
	}
	if _, err := printer.StrategiesByName(c.Print.Strategies); err != nil {
		return err
	}
	if len(c.Print.Strategies) == 0 {
		return errors.New("print.strategies must name at least one strategy")
	}

	dir, _ := os.Getwd()
	for _, p := range []*string{&c.Files.GCodeDir, &c.Files.DoneDir, &c.History.DataDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return nil
}

// Dialer builds the serial dialer.
func (c *Config) Dialer() *bee.Dialer {
	return &bee.Dialer{
		Port: bee.PortConfig{
			Device:      c.Device.Port,
			Backend:     c.Device.Backend,
			Baud:        c.Device.Baud,
			ReadTimeout: c.Device.ReadTimeout,
		},
		CommandTimeout: c.Device.CommandTimeout,
	}
}

// SessionConfig maps the file sections onto the session tunables.
func (c *Config) SessionConfig() printer.SessionConfig {
	sc := printer.DefaultSessionConfig()
	sc.SettleInterval = c.Session.SettleInterval
	sc.ReconnectAttempts = c.Session.ReconnectAttempts
	sc.ReconnectInterval = c.Session.ReconnectInterval
	sc.ShutdownClearWait = c.Session.ShutdownClearWait
	sc.TransferPoll = c.Transfer.PollInterval
	sc.Heat.PollInterval = c.Heating.PollInterval
	sc.Heat.Tolerance = c.Heating.Tolerance
	sc.Heat.ReportDelta = c.Heating.ReportDelta
	sc.Sequencer.CommandSettle = c.Print.CommandSettle
	sc.Sequencer.ProbeRounds = c.Print.ProbeRounds
	sc.Sequencer.ProbeInterval = c.Print.ProbeInterval
	// Names were checked by resolve.
	sc.Sequencer.Strategies, _ = printer.StrategiesByName(c.Print.Strategies)
	return sc
}

// PrintRequest builds the request for one file.
func (c *Config) PrintRequest(path string) printer.PrintRequest {
	return printer.PrintRequest{
		Path:        path,
		NamePolicy:  printer.NamePolicy(c.Transfer.NamePolicy),
		FixedName:   c.Transfer.FixedName,
		Header:      c.Transfer.Header,
		Scan:        gcode.ScanOptions{DefaultTemperature: c.Heating.DefaultTemperature},
		HeatTimeout: c.Heating.Timeout,
	}
}

func strategyNames(list []printer.Strategy) []string {
	names := make([]string, len(list))
	for i, st := range list {
		names[i] = st.Name
	}
	return names
}
