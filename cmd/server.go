package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/chatter/internal/env"
	"github.com/luma/chatter/internal/metrics"
	"github.com/luma/chatter/transport"
)

var (
	// The host to listen on
	host string
)

func init() {
	flags := ServerCmd.PersistentFlags()

	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

var ServerCmd = &cobra.Command{
	Use:   "server <port>",
	Short: "Run the chat server",
	Long: `Run the chat server

Usage
	chatter server <port>

Set CHATTER_HTTP_PORT to also serve /ping, /stats and /metrics over HTTP.
`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return err
		}

		_, err := parsePort(args[0])
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		port, err := parsePort(args[0])
		if err != nil {
			return err
		}

		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		server := transport.NewServer(transport.Options{
			Host:        host,
			Port:        port,
			Reuseport:   conf.Reuseport,
			MaxSessions: conf.MaxSessions,
			QueueLimit:  conf.QueueLimit,
			Metrics:     metrics.New(registry),
			Log:         log.Named("transport"),
		})

		if err := server.Start(ctx); err != nil {
			return err
		}

		var httpServer *http.Server
		if conf.HTTPPort != "" {
			httpServer = &http.Server{
				Addr:    net.JoinHostPort(host, conf.HTTPPort),
				Handler: setupRouter(conf.DebugHTTP, server, registry, log.Named("http")),
			}

			// Initializing the server in a goroutine so that
			// it won't block the graceful shutdown handling below
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("Started",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Int("port", port))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			httpServer.SetKeepAlivesEnabled(false)

			if err := httpServer.Shutdown(ctx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := server.Close(); err != nil {
			log.Error("Chat server did not shut down cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// StatsSource is what the HTTP side server reports on.
type StatsSource interface {
	Stats(ctx context.Context) (transport.Stats, error)
}

func setupRouter(debugHTTP bool, stats StatsSource, gatherer prometheus.Gatherer, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, with RFC3339
	// UTC times. Liveness probes are left out.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/stats", func(c *gin.Context) {
		snapshot, err := stats.Stats(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}

		doc, err := json.Marshal(snapshot)
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// setFileLimit raises the open file limit to the hard limit, every client
// holds one.
func setFileLimit() (uint64, error) {
	var rLimit unix.Rlimit

	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
