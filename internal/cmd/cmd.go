package cmd

import (
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/app"
	"github.com/clambin/go-common/charmer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "aircon",
		Short: "Runs the schedules, fans and alarms of an air conditioner",
	}
	runCmd = cobra.Command{
		Use:   "run",
		Short: "Run the scheduler service",
		RunE:  run,
	}
)

var args = charmer.Arguments{
	"debug":                      {Default: false, Help: "Log debug messages"},
	"store.type":                 {Default: "firebase", Help: "Remote store (firebase, redis or memory)"},
	"firebase.url":               {Default: "", Help: "Firebase realtime database URL"},
	"firebase.auth":              {Default: "", Help: "Firebase database secret or ID token"},
	"redis.url":                  {Default: "redis://localhost:6379/0", Help: "Redis URL"},
	"redis.prefix":               {Default: "aircon:", Help: "Redis key prefix"},
	"scheduler.interval":         {Default: time.Second, Help: "Interval between schedule evaluations"},
	"aircon.deviation.threshold": {Default: 5.0, Help: "Temperature deviation (°C) that raises an alarm"},
	"aircon.deviation.interval":  {Default: 10 * time.Second, Help: "Interval between deviation checks"},
	"journal.path":               {Default: "", Help: "SQLite execution journal (disabled if empty)"},
	"api.addr":                   {Default: ":8080", Help: "Address of the HTTP API, /health and /metrics"},
	"slack.token":                {Default: "", Help: "Slack token"},
	"slack.channel":              {Default: "", Help: "Slack channel for notifications"},
	"mqtt.broker":                {Default: "", Help: "MQTT broker for notifications (e.g. tcp://localhost:1883)"},
	"mqtt.topic":                 {Default: "aircon/events", Help: "MQTT topic for notifications"},
	"mqtt.clientID":              {Default: "aircon-scheduler", Help: "MQTT client ID"},
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	if err := charmer.SetPersistentFlags(&RootCmd, viper.GetViper(), args); err != nil {
		panic("failed to set flags: " + err.Error())
	}
	RootCmd.AddCommand(&runCmd)
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/aircon/")
		viper.AddConfigPath("$HOME/.aircon")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("AIRCON")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Warn("failed to read config file. using defaults", "err", err)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := newLogger(viper.GetBool("debug"))
	logger.Info("aircon scheduler starting", "version", cmd.Root().Version)
	defer logger.Info("aircon scheduler stopped")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, viper.GetViper(), registry, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = a.Close() }()

	return a.Run(ctx)
}

func newLogger(debug bool) *slog.Logger {
	var opts slog.HandlerOptions
	if debug {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &opts))
}
