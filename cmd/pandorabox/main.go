// Package main runs the Pandorabox WhatsApp automation service: the browser session,
// the message gateway, automated replies and the HTTP and real-time API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/samikhalifabe/Pandorabox/pkg/autoreply"
	"github.com/samikhalifabe/Pandorabox/pkg/broadcast"
	"github.com/samikhalifabe/Pandorabox/pkg/browser"
	appconfig "github.com/samikhalifabe/Pandorabox/pkg/config"
	"github.com/samikhalifabe/Pandorabox/pkg/conversation"
	"github.com/samikhalifabe/Pandorabox/pkg/gateway"
	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/server"
	"github.com/samikhalifabe/Pandorabox/pkg/session"
	"github.com/samikhalifabe/Pandorabox/pkg/store"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

var _ session.Backend = (*browser.Driver)(nil)

// Config holds the command-line configuration.
type Config struct {
	ConfigFile  string
	EnvFile     string
	LogLevel    string
	LogDir      string
	Console     bool
	ShowVersion bool
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("Pandorabox v%s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, config); err != nil {
		cancel()
		log.Printf("pandorabox: %v", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.ConfigFile, "config", "", "Path to configuration file (default ~/.pandorabox/config.yaml)")
	flag.StringVar(&config.EnvFile, "env-file", ".env", "Optional .env file loaded before configuration")
	flag.StringVar(&config.LogLevel, "log-level", "", "Log level override: debug, info, warn, error")
	flag.StringVar(&config.LogDir, "log-dir", "", "Directory for log files (default ~/.pandorabox/logs)")
	flag.BoolVar(&config.Console, "console", true, "Mirror logs to stderr")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Pandorabox - WhatsApp session orchestration service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pandorabox [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  PORT, DATABASE_URL, STORE_DRIVER, REDIS_URL, OPENAI_API_KEY, OPENAI_BASE_URL, AI_ENABLED\n")
		fmt.Fprintf(os.Stderr, "  CHROME_PATH, BROWSER_HEADLESS, APP_ENV, DOCKER_ENV, WHATSAPP_USER_DATA_DIR\n")
	}

	flag.Parse()
	return config
}

//nolint:gocyclo
func run(ctx context.Context, cliConfig *Config) error {
	if err := godotenv.Load(cliConfig.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", cliConfig.EnvFile, err)
	}

	if err := appconfig.Initialize(cliConfig.ConfigFile, os.LookupEnv); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	serverCfg := appconfig.GetServer().Settings()
	sessionCfg := appconfig.GetSession().Settings()

	level := serverCfg.LogLevel
	if cliConfig.LogLevel != "" {
		level = cliConfig.LogLevel
	}
	if err := logging.SetLevel(level); err != nil {
		return err
	}
	logging.EnableConsole(cliConfig.Console)
	if cliConfig.LogDir != "" {
		logging.SetDirectory(cliConfig.LogDir)
	}

	logger, err := logging.NewLogger("main")
	if err != nil {
		log.Printf("logging to stderr only: %v", err)
	}
	defer logger.Close()
	logger.Infof("starting pandorabox v%s", version)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	driver := browser.NewDriver(logging.MustLogger("browser"))
	resolver := browser.NewResolver(os.LookupEnv, logging.MustLogger("resolver"))
	manager := session.NewManager(driver, resolver, session.Options{
		StartupTimeout: sessionCfg.StartupTimeout,
		QRTTL:          sessionCfg.QRTTL,
		PairingTimeout: sessionCfg.PairingTimeout,
		InitializeWait: sessionCfg.InitializeWait,
		Retry: session.RetryPolicy{
			BaseDelay:      sessionCfg.RetryBaseDelay,
			MaxDelay:       sessionCfg.RetryMaxDelay,
			MaxAttempts:    sessionCfg.RetryMaxAttempts,
			Jitter:         sessionCfg.RetryJitter,
			AttemptTimeout: sessionCfg.AttemptTimeout,
		},
	}, logging.MustLogger("session"))

	broadcaster := broadcast.New(serverCfg.SubscriberQueue, manager.Status, logging.MustLogger("broadcast"))
	defer broadcaster.Close()

	correlator := conversation.New(st, logging.MustLogger("conversation"))
	gw := gateway.New(manager, correlator, broadcaster, st, gateway.Options{
		QueueSize:  sessionCfg.SendQueueSize,
		AckTimeout: sessionCfg.AckTimeout,
	}, logging.MustLogger("gateway"))
	defer gw.Close()

	aiCfg := appconfig.GetAI()
	replyLog := logging.MustLogger("autoreply")
	generator := autoreply.NewOpenAIGenerator(aiCfg, st, replyLog)
	gw.SetResponder(autoreply.New(aiCfg, generator, gw, replyLog))

	manager.OnStatus(func(s types.SessionStatus) { broadcaster.Publish(types.NewStatusEvent(s)) })
	manager.OnPairing(func(p types.Pairing) { broadcaster.Publish(types.NewQREvent(p)) })
	manager.OnInbound(gw.Ingest)
	manager.OnAck(gw.HandleAck)
	manager.OnTerminate(func() { gw.FailPending(types.ErrSessionTerminated) })

	srv := server.New(server.Deps{
		Session:        manager,
		Messages:       gw,
		Conversations:  correlator,
		Broadcaster:    broadcaster,
		Store:          st,
		ReloadConfig:   appconfig.Refresh,
		AllowedOrigins: serverCfg.AllowedOrigins,
		Log:            logging.MustLogger("server"),
	})
	httpServer := &http.Server{
		Addr:              serverCfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("listening on %s", serverCfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if serverCfg.RedisURL != "" {
		client, err := broadcast.NewRedisClient(serverCfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		relay := broadcast.NewRedisRelay(broadcaster, client, serverCfg.RedisChannel, logging.MustLogger("redis"))
		g.Go(func() error { return relay.Run(gctx) })
	}

	if manualInit() {
		logger.Infof("%s is set: waiting for POST %s/initialize", browser.EnvDocker, server.APIPrefix)
	} else {
		g.Go(func() error {
			state, err := manager.Initialize(gctx)
			if err != nil {
				logger.Errorf("session initialization failed: %v", err)
				return nil
			}
			logger.Infof("session initialized: %s", state)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		return manager.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore() (store.Store, error) {
	driver, dsn := appconfig.GetStore().Settings()
	if driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewGormStore(store.GormConfig{Driver: driver, DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}
	return st, nil
}

// manualInit reports whether the session waits for an explicit initialize call.
func manualInit() bool {
	v, _ := strconv.ParseBool(os.Getenv(browser.EnvDocker))
	return v
}
