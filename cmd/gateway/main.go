package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/secrets-gateway/api/secretshandler"
	"github.com/ruteri/secrets-gateway/api/server"
	"github.com/ruteri/secrets-gateway/bootstrap"
	"github.com/ruteri/secrets-gateway/cmd/flags"
	"github.com/ruteri/secrets-gateway/common"
	"github.com/ruteri/secrets-gateway/gateway"
	"github.com/ruteri/secrets-gateway/metrics"
	"github.com/ruteri/secrets-gateway/storage"
	"github.com/urfave/cli/v2"
)

var gatewayFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:3004",
		Usage: "address to listen on for API",
	},
	flags.StoreFlag,
	flags.VaultTokenFlag,
	&cli.StringFlag{
		Name:  "seed-spec",
		Usage: "YAML seed specification replacing the built-in policies and secrets",
	},
	&cli.DurationFlag{
		Name:  "health-interval",
		Value: 2 * time.Second,
		Usage: "interval between backing store health probes at startup",
	},
	&cli.IntFlag{
		Name:  "health-retries",
		Value: 30,
		Usage: "number of backing store health probes before giving up",
	},
	&cli.StringFlag{
		Name:  "service-name",
		Value: "secrets-gateway",
		Usage: "service name reported by the health route",
	},
	flags.LogServiceFlagFn("secrets-gateway"),
}

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "Seed the backing secret store and serve the secrets gateway API",
		Flags: append(gatewayFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			storeURI := cCtx.String(flags.StoreFlag.Name)
			vaultToken := cCtx.String(flags.VaultTokenFlag.Name)
			seedSpecPath := cCtx.String("seed-spec")
			serviceName := cCtx.String("service-name")

			logger := flags.SetupLogger(cCtx)

			spec := bootstrap.DefaultSpec()
			if seedSpecPath != "" {
				var err error
				spec, err = bootstrap.LoadSpec(seedSpecPath)
				if err != nil {
					logger.Error("Failed to load seed specification", "file", seedSpecPath, "err", err)
					return err
				}
				logger.Info("Loaded seed specification", "file", seedSpecPath,
					"policies", len(spec.Policies), "secrets", len(spec.Secrets))
			}

			store, err := storage.NewStoreFactory(logger).WithVaultToken(vaultToken).StoreFor(storeURI)
			if err != nil {
				logger.Error("Failed to create backing store", "err", err)
				return err
			}
			logger.Info("Using backing store", "store", store.Name(), "location", store.LocationURI())

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			seeder := bootstrap.NewSeeder(store, spec, bootstrap.Options{
				HealthInterval: cCtx.Duration("health-interval"),
				HealthRetries:  cCtx.Int("health-retries"),
				Metrics:        metricsSrv.Metrics(),
			}, logger)

			report, err := seeder.Initialize(ctx)
			if err != nil {
				logger.Error("Bootstrap failed", "err", err)
				return cli.Exit(err.Error(), 1)
			}
			for _, item := range report.Failed() {
				logger.Warn("Item not seeded, will retry on next start", "kind", item.Kind, "name", item.Name, "err", item.Err)
			}

			svc := gateway.NewService(store, spec, metricsSrv.Metrics(), logger)
			handler := secretshandler.NewHandler(svc, serviceName, logger)

			srv, err := server.New(flags.ConfigureServer(cCtx, logger, listenAddr, metricsSrv), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			srv.RunInBackground()

			logger.Info("Server is running, press Ctrl+C to stop")
			<-ctx.Done()
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
