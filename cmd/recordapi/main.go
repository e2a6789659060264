package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tarik02/apiproxy/api"
	"github.com/tarik02/apiproxy/entevents"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/recordapi"
	"github.com/tarik02/apiproxy/recordstore"
	"github.com/tarik02/apiproxy/util"
	prettyconsole "github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
)

const shutdownGrace = 30 * time.Second

func main() {
	ctx := context.Background()

	log := prettyconsole.NewLogger(zap.DebugLevel)
	defer func() {
		_ = log.Sync()
	}()

	log.Info("recordapi", zap.String("version", version), zap.String("commit", commit), zap.String("build date", date))

	if err := run(ctx, &log, "."); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context, rootLog **zap.Logger, configDir string) error {
	shutdownChan := make(chan struct{})
	doneCh := make(chan struct{})
	errCh := make(chan error, 1)

	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := *rootLog

	if err := util.LoadDotEnv(); err != nil {
		log.Warn("error loading .env", zap.Error(err))
	}

	v := util.NewViper("recordapi.yaml", "RECORDAPI", configDir)
	setDefaults(v)

	configFound, err := util.ReadConfig(v)
	if err != nil {
		return err
	}

	config, err := util.UnmarshalConfig[Config](v)
	if err != nil {
		return err
	}

	log, err = config.Log.CreateLogger()
	if err != nil {
		return err
	}
	*rootLog = log
	zap.ReplaceGlobals(log)

	if !configFound {
		log.Info("config file not found, using defaults and environment")
	}

	var currentConfig atomic.Pointer[Config]
	currentConfig.Store(&config)

	ctx = logging.WithLogger(ctx, log)

	store, err := recordstore.Open(config.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("error closing store", zap.Error(err))
		}
	}()

	events := entevents.New[api.Record](ctx)
	defer events.Close()

	srv := recordapi.New(store, events, version)
	srv.ValidateToken = func(token string) bool {
		return currentConfig.Load().FindAPIToken(token)
	}
	srv.AuthEnabled = func() bool {
		return currentConfig.Load().AuthEnabled()
	}
	if !config.AuthEnabled() {
		log.Warn("no api tokens configured, record mutations are open")
	}

	if err := srv.Seed(ctx); err != nil {
		return err
	}

	buildInfoMetric.WithLabelValues(version, commit, config.Store.Driver).Set(1)

	r := gin.New()
	logging.Gin(r, log)

	if config.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	if config.Pprof {
		pprof.Register(r)
	}

	srv.Register(r)

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", config.Bind)
	if err != nil {
		return err
	}

	server := http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	var wg sync.WaitGroup

	wg.Go(func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			select {
			case errCh <- err:
			default:
			}
		}
		log.Debug("server.Serve returned")
	})

	serverShutdownDoneCh := make(chan struct{})
	wg.Go(func() {
		defer close(serverShutdownDoneCh)
		select {
		case <-ctx.Done():
			return
		case <-shutdownChan:
		}
		// live event streams only end once the manager stops
		_ = events.Close()
		_ = server.Shutdown(ctx)
		log.Debug("server shutdown done")
	})

	wg.Go(func() {
		select {
		case <-serverShutdownDoneCh:
			return
		case <-ctx.Done():
		}
		_ = server.Close()
		log.Debug("server close done")
	})

	if configFound {
		v.OnConfigChange(func(in fsnotify.Event) {
			c, err := util.UnmarshalConfig[Config](v)
			if err != nil {
				configReloadsTotalMetric.WithLabelValues("error").Inc()
				log.Warn("error reloading config", zap.Error(err))
				return
			}
			if c.Store != config.Store || c.Bind != config.Bind {
				log.Warn("store and bind changes need a restart")
			}
			currentConfig.Store(&c)
			configReloadsTotalMetric.WithLabelValues("ok").Inc()
			log.Info("config reloaded", zap.Int("api tokens", len(c.APITokens)), zap.Bool("auth", c.AuthEnabled()))
		})

		go v.WatchConfig()
	}

	go util.HandleInterrupts(ctx, log, shutdownGrace, shutdownChan, errCh, cancel, doneCh)

	log.Info("server running",
		zap.String("addr", listener.Addr().String()),
		zap.String("driver", config.Store.Driver),
		zap.String("path", config.Store.Path),
	)

	wg.Wait()

	return nil
}
