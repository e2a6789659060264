package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tarik02/apiproxy/gateway"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/util"
	prettyconsole "github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
)

const shutdownGrace = 60 * time.Second

func main() {
	ctx := context.Background()

	log := prettyconsole.NewLogger(zap.DebugLevel)
	defer func() {
		_ = log.Sync()
	}()

	log.Info("gateway", zap.String("version", version), zap.String("commit", commit), zap.String("build date", date))

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

	v := util.NewViper("gateway.yaml", "GATEWAY", configDir)
	setDefaults(v)

	configFound, err := util.ReadConfig(v)
	if err != nil {
		return err
	}
	if !configFound {
		log.Info("config file not found, using defaults and environment")
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

	ctx = logging.WithLogger(ctx, log)

	proxy, err := config.BuildProxy()
	if err != nil {
		return err
	}

	buildInfoMetric.WithLabelValues(version, commit).Set(1)

	gw := gateway.New(proxy)
	gw.ForwardAuth = config.ForwardAuth

	r := gin.New()
	logging.Gin(r, log)

	if len(config.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOriginFunc:  config.AllowOrigin,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", logging.RequestIDHeader},
			ExposeHeaders:    []string{logging.RequestIDHeader},
			AllowCredentials: config.CORS.AllowCredentials,
			MaxAge:           12 * time.Hour,
		}))
	}

	if config.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	if config.Pprof {
		pprof.Register(r)
	}

	gw.Register(r)

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", config.Bind)
	if err != nil {
		return err
	}

	server := http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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
			p, err := c.BuildProxy()
			if err != nil {
				configReloadsTotalMetric.WithLabelValues("error").Inc()
				log.Warn("error rebuilding upstream proxy", zap.Error(err))
				return
			}
			gw.SetProxy(p)
			configReloadsTotalMetric.WithLabelValues("ok").Inc()
			log.Info("config reloaded", zap.String("upstream", c.Upstream.BaseURL))
		})

		go v.WatchConfig()
	}

	go util.HandleInterrupts(ctx, log, shutdownGrace, shutdownChan, errCh, cancel, doneCh)

	log.Info("server running", zap.String("addr", listener.Addr().String()), zap.String("upstream", config.Upstream.BaseURL))

	wg.Wait()

	return nil
}
