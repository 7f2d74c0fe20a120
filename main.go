package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const usage = `Usage: beeprint [flags] <command> [args]

Commands:
  print <file>      transfer a G-code file to the SD card, heat and start it
  stream <file>     print by sending the file line by line over USB
  monitor           follow printer status until the print ends
  status            show mode, status, temperature and SD files
  heat <temp>       heat the nozzle and wait
  load              heat and load filament
  unload            heat and retract filament
  calibrate         walk through bed leveling
  stop              emergency stop
  list              list attached printers
  files             list the local G-code directory
  watch [dir]       print every new G-code file dropped into dir

Flags:
`

func main() {
	configPath := flag.StringP("config", "c", defaultConfigPath, "path to configuration file")
	port := flag.StringP("port", "p", "", "serial device of the printer (default: first found)")
	logLevel := flag.StringP("log-level", "l", "", "log level: debug, info, warn, error")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := LoadConfig(*configPath, flag.CommandLine.Changed("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Device.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := setupLogging(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log settings: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, args[0], args[1:])
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func setupLogging(c LogConfig) error {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch c.Format {
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "", "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
