package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dashbite/apigw/internal/config"
	"github.com/dashbite/apigw/internal/core"
	"github.com/dashbite/apigw/internal/ratelimit"
	"github.com/dashbite/apigw/internal/server"
	"github.com/dashbite/apigw/internal/service"
	"github.com/dashbite/apigw/internal/webhook"
)

const banner = `
   __ _ _ __ (_) __ ___      __
  / _' | '_ \| |/ _' \ \ /\ / /
 | (_| | |_) | | (_| |\ V  V /
  \__,_| .__/|_|\__, | \_/\_/
       |_|      |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API gateway",
		Long:  "Start the HTTP server that authenticates third-party traffic and proxies it to the core delivery service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides server.port)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides server.host)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dev {
		cfg.Logging.Level = "debug"
	}

	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(cfg.Logging, os.Stderr)

	// 1. Store
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Driver())

	// 2. Owner sessions
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret, err = ephemeralSecret()
		if err != nil {
			return err
		}
		logger.Warn("auth.jwt_secret not set; owner sessions will not survive a restart")
	}
	authSvc := service.NewAuthService(st, jwtSecret, cfg.Auth.BcryptCost)

	hasOwner, err := st.HasAnyOwner(context.Background())
	if err != nil {
		logger.Warn("failed to check for owners", "error", err)
	}
	if !hasOwner {
		logger.Warn("no owner account found - run: apigw owner create --super-admin")
	}

	// 3. Keys, quotas, audit
	keys := service.NewKeyManager(st,
		service.WithHashCost(cfg.Auth.BcryptCost),
		service.WithKeyLogger(logger),
	)
	usage := service.NewUsageTracker(st)
	audit := service.NewAuditLogger(st, logger, cfg.Audit.BufferSize)

	// 4. Webhooks
	registry := webhook.NewRegistry(st, logger)
	dispatcher := webhook.NewDispatcher(registry, st, webhook.Config{
		MaxAttempts:      cfg.Webhooks.MaxAttempts,
		BackoffBase:      config.Duration(cfg.Webhooks.BackoffBase, time.Second),
		Timeout:          config.Duration(cfg.Webhooks.Timeout, 10*time.Second),
		FailureThreshold: cfg.Webhooks.FailureThreshold,
		UserAgent:        cfg.Webhooks.UserAgent,
	}, logger)

	// 5. Core service and order rules
	loc, err := time.LoadLocation(cfg.Orders.AlcoholWindow.Timezone)
	if err != nil {
		return fmt.Errorf("alcohol window timezone: %w", err)
	}
	window := core.AlcoholWindow{
		StartHour: cfg.Orders.AlcoholWindow.StartHour,
		EndHour:   cfg.Orders.AlcoholWindow.EndHour,
		Location:  loc,
	}
	coreClient := core.NewClient(cfg.Upstream.BaseURL, config.Duration(cfg.Upstream.Timeout, 5*time.Second))

	// 6. HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second),
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		IPPerMinute:     cfg.RateLimit.IPPerMinute,
		SweepInterval:   config.Duration(cfg.RateLimit.SweepInterval, time.Minute),
		JWTExpiry:       config.Duration(cfg.Auth.JWTExpiry, time.Hour),
		Version:         versionString(),
	}
	ipCounter := ratelimit.NewCounter(cfg.RateLimit.IPPerMinute, time.Minute,
		ratelimit.WithMaxEntries(cfg.RateLimit.IPMaxEntries),
		ratelimit.WithLogger(logger),
	)

	srv := server.New(srvCfg, server.Deps{
		Store:         st,
		Auth:          authSvc,
		Keys:          keys,
		Usage:         usage,
		Audit:         audit,
		Registry:      registry,
		Dispatcher:    dispatcher,
		Core:          coreClient,
		IPCounter:     ipCounter,
		AlcoholWindow: window,
	}, logger)

	fmt.Printf("→ apigw %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ API:        http://%s:%d/api/v1\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Upstream:   %s\n", cfg.Upstream.BaseURL)
	fmt.Println()

	return srv.ListenAndServe()
}

func ephemeralSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
