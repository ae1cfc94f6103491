package app

import (
	"context"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/aircon"
	"github.com/clambin/aircon-scheduler/internal/api"
	"github.com/clambin/aircon-scheduler/internal/collector"
	"github.com/clambin/aircon-scheduler/internal/fans"
	"github.com/clambin/aircon-scheduler/internal/health"
	"github.com/clambin/aircon-scheduler/internal/journal"
	"github.com/clambin/aircon-scheduler/internal/notifier"
	"github.com/clambin/aircon-scheduler/internal/scheduler"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/clambin/aircon-scheduler/internal/store/firebase"
	"github.com/clambin/aircon-scheduler/internal/store/memory"
	"github.com/clambin/aircon-scheduler/internal/store/redis"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Registry registers the collectors and serves them on /metrics.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// App holds all components of the scheduler service.
type App struct {
	Store      store.Store
	Repository *scheduler.Repository
	Evaluator  *scheduler.Evaluator
	Executor   *scheduler.Executor
	AirCon     *aircon.Controller
	Fans       *fans.Controller
	Collector  *collector.Collector
	Health     *health.Health
	Journal    *journal.Journal
	Router     *gin.Engine
	addr       string
	closers    []func() error
	logger     *slog.Logger
}

// New builds all components from the configuration. The caller must Close the returned App.
func New(ctx context.Context, cfg *viper.Viper, registry Registry, l *slog.Logger) (*App, error) {
	a := &App{addr: cfg.GetString("api.addr"), logger: l}
	if err := a.build(ctx, cfg, registry, l); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *viper.Viper, registry Registry, l *slog.Logger) (err error) {
	if a.Store, err = a.makeStore(ctx, cfg, registry, l.With("component", "store")); err != nil {
		return err
	}
	n, err := a.makeNotifiers(cfg, l.With("component", "notifier"))
	if err != nil {
		return err
	}

	thresholds, err := maybeLoadThresholds(filepath.Join(filepath.Dir(cfg.ConfigFileUsed()), "fans.yaml"))
	if err != nil {
		return fmt.Errorf("fans: %w", err)
	}

	// Scheduler
	a.Repository = scheduler.NewRepository(a.Store, l.With("component", "repository"))
	a.Executor = scheduler.NewExecutor(a.Store, l.With("component", "executor"))
	a.Executor.Notifier = n
	if path := cfg.GetString("journal.path"); path != "" {
		if a.Journal, err = journal.Open(path); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		a.closers = append(a.closers, a.Journal.Close)
		a.Executor.Journal = a.Journal
	}
	a.Evaluator = scheduler.NewEvaluator(a.Repository, a.Executor, cfg.GetDuration("scheduler.interval"), l.With("component", "evaluator"))

	// Collector
	a.Collector = collector.New(a.Repository.Updates, l.With("component", "collector"))
	registry.MustRegister(a.Collector)
	a.Evaluator.Recorder = a.Collector

	// Controllers
	a.AirCon = aircon.New(
		a.Store,
		cfg.GetFloat64("aircon.deviation.threshold"),
		cfg.GetDuration("aircon.deviation.interval"),
		l.With("component", "aircon"),
	)
	a.AirCon.Notifier = n
	a.Fans = fans.New(a.Store, thresholds, l.With("component", "fans"))

	// Health Endpoint
	a.Health = health.New(a.Repository.Updates, l.With("component", "health"))

	// HTTP API
	handler := api.New(a.AirCon, a.Repository, a.Fans, l.With("component", "api"))
	if a.Journal != nil {
		handler.Journal = a.Journal
	}
	gin.SetMode(gin.ReleaseMode)
	a.Router = gin.New()
	a.Router.Use(gin.Recovery())
	a.Router.GET("/health", gin.WrapH(a.Health))
	a.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	handler.Register(a.Router)

	return nil
}

func (a *App) makeStore(ctx context.Context, cfg *viper.Viper, registry prometheus.Registerer, l *slog.Logger) (store.Store, error) {
	switch storeType := cfg.GetString("store.type"); storeType {
	case "firebase":
		return firebase.New(cfg.GetString("firebase.url"), cfg.GetString("firebase.auth"), firebase.NewInstrumentedHTTPClient(registry), l)
	case "redis":
		s, err := redis.NewFromURL(ctx, cfg.GetString("redis.url"), cfg.GetString("redis.prefix"), l)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "memory":
		l.Warn("using in-memory store. state is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("invalid store type %q", storeType)
	}
}

func (a *App) makeNotifiers(cfg *viper.Viper, l *slog.Logger) (notifier.Notifiers, error) {
	notifiers := notifier.Notifiers{notifier.SLogNotifier{Logger: l}}

	if token := cfg.GetString("slack.token"); token != "" {
		notifiers = append(notifiers, &notifier.SlackNotifier{
			Logger:  l.With("notifier", "slack"),
			Slack:   slack.New(token),
			Channel: cfg.GetString("slack.channel"),
		})
	}

	if broker := cfg.GetString("mqtt.broker"); broker != "" {
		c, err := notifier.NewMQTTClient(broker, cfg.GetString("mqtt.clientID"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { c.Disconnect(250); return nil })
		notifiers = append(notifiers, &notifier.MQTTNotifier{
			Logger: l.With("notifier", "mqtt"),
			Client: c,
			Topic:  cfg.GetString("mqtt.topic"),
		})
	}
	return notifiers, nil
}

func maybeLoadThresholds(path string) (fans.Thresholds, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	return fans.LoadThresholds(f)
}

// Run starts all components and the HTTP server. It returns when ctx is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Repository.Run(ctx) })
	g.Go(func() error { return a.Evaluator.Run(ctx) })
	g.Go(func() error { return a.AirCon.Run(ctx) })
	g.Go(func() error { return a.Fans.Run(ctx) })
	g.Go(func() error { return a.Collector.Run(ctx) })
	g.Go(func() error { return a.Health.Run(ctx) })

	srv := &http.Server{Addr: a.addr, Handler: a.Router, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		a.logger.Info("http server starting", "addr", a.addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the store, the journal and the notifiers' connections.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
