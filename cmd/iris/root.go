package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-iris/internal/config"
	"github.com/teslashibe/go-iris/internal/log"
	"github.com/teslashibe/go-iris/pkg/iris"
)

// flags holds the command-line overrides. Only flags the user set are
// applied on top of the loaded configuration.
type flags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	camera     int
	wakeWord   string
	webAddr    string
	eventFile  string
	continuous bool

	noCamera     bool
	noMic        bool
	noUltrasonic bool
	noIMU        bool
	noWeb        bool
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "iris",
		Short: "Iris - assistive vision and home safety",
		Long: `Iris watches through a camera, listens for its wake word, measures the
distance ahead and watches the IMU for falls. Everything it notices is spoken;
safety events are appended to a JSON-lines log that caregivers can follow.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &f)
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file; a missing file is ignored")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&f.eventFile, "event-file", "", "event log path")

	rf := cmd.Flags()
	rf.IntVar(&f.camera, "camera", 0, "camera device index")
	rf.StringVar(&f.wakeWord, "wake-word", "", "wake word")
	rf.StringVar(&f.webAddr, "web-addr", "", "dashboard listen address")
	rf.BoolVar(&f.continuous, "continuous", false, "start with continuous detection on")
	rf.BoolVar(&f.noCamera, "no-camera", false, "disable the camera and detector")
	rf.BoolVar(&f.noMic, "no-mic", false, "disable the microphone and voice commands")
	rf.BoolVar(&f.noUltrasonic, "no-ultrasonic", false, "disable the ultrasonic sensor")
	rf.BoolVar(&f.noIMU, "no-imu", false, "disable the IMU and fall detection")
	rf.BoolVar(&f.noWeb, "no-web", false, "disable the dashboard")

	cmd.AddCommand(newEventsCmd(&f))
	cmd.AddCommand(newConfigCmd(&f))
	return cmd
}

// loadConfig layers the config file, environment and set flags.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath, f.envFile)
	if err != nil {
		return nil, err
	}

	set := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if set("event-file") {
		cfg.SetEventFile(f.eventFile)
	}
	if set("camera") {
		cfg.Camera.Index = f.camera
	}
	if set("wake-word") {
		cfg.Wake.Word = f.wakeWord
	}
	if set("web-addr") {
		cfg.Web.Addr = f.webAddr
	}
	if set("continuous") {
		cfg.Continuous = f.continuous
	}
	if f.noCamera {
		cfg.Enable.Camera = false
	}
	if f.noMic {
		cfg.Enable.Microphone = false
	}
	if f.noUltrasonic {
		cfg.Enable.Ultrasonic = false
	}
	if f.noIMU {
		cfg.Enable.IMU = false
	}
	if f.noWeb {
		cfg.Enable.Web = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dev, err := openDevices(ctx, cfg, logger)
	if err != nil {
		return err
	}

	app, err := iris.New(cfg, dev, iris.WithLogger(logger))
	if err != nil {
		if cerr := dev.Close(); cerr != nil {
			logger.Warn("release devices", "error", cerr)
		}
		if errors.Is(err, iris.ErrNoInputs) {
			logger.Error("no camera and no microphone; nothing to do")
		}
		return err
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	return app.Run(ctx)
}
