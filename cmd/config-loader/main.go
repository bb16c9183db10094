package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/ruteri/secrets-gateway/api/secretshandler"
	"github.com/ruteri/secrets-gateway/client"
	"github.com/ruteri/secrets-gateway/cmd/flags"
	"github.com/ruteri/secrets-gateway/retry"
	"github.com/ruteri/secrets-gateway/storage"
	"github.com/urfave/cli/v2"
)

var loaderFlags = []cli.Flag{
	flags.GatewayURLFlag,
	&cli.StringFlag{
		Name:     "service",
		Required: true,
		EnvVars:  []string{"SERVICE_NAME"},
		Usage:    "name of the service the configuration is for, e.g. auth-service",
	},
	&cli.StringFlag{
		Name:  "direct-store",
		Usage: "read from this backing store URI instead of the gateway API",
	},
	flags.VaultTokenFlag,
	&cli.StringFlag{
		Name:  "output",
		Value: ".env",
		Usage: "dotenv file to write, '-' for stdout",
	},
	&cli.StringFlag{
		Name:  "fallback-env",
		Usage: "dotenv file with values kept when a section cannot be loaded",
	},
	&cli.StringSliceFlag{
		Name:  "section",
		Usage: "section to load, repeatable (default: all)",
	},
	&cli.IntFlag{
		Name:  "max-retries",
		Value: 3,
		Usage: "attempts per section fetch",
	},
	&cli.DurationFlag{
		Name:  "retry-delay",
		Value: time.Second,
		Usage: "backoff step between section fetch attempts",
	},
	&cli.StringFlag{
		Name:  "backoff",
		Value: "linear",
		Usage: "backoff between section fetch attempts: linear, exponential or constant",
	},
	&cli.IntFlag{
		Name:  "ready-attempts",
		Value: 30,
		Usage: "gateway readiness probes before giving up",
	},
	&cli.IntFlag{
		Name:  "min-signing-key-length",
		Value: 32,
		Usage: "minimum accepted length of the JWT signing key",
	},
	&cli.BoolFlag{
		Name:  "allow-degraded-start",
		Usage: "write fallback configuration when the gateway never becomes ready",
	},
	flags.LogServiceFlagFn("config-loader"),
}

func main() {
	app := &cli.App{
		Name:  "config-loader",
		Usage: "Fetch service configuration from the secrets gateway into a dotenv file",
		Flags: append(loaderFlags, flags.LogFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			serviceName := cCtx.String("service")

			backoff, err := retry.ParseStrategy(cCtx.String("backoff"))
			if err != nil {
				return err
			}

			base := client.Defaults(serviceName)
			if file := cCtx.String("fallback-env"); file != "" {
				fallback, err := godotenv.Read(file)
				if err != nil {
					logger.Error("Failed to read fallback env file", "file", file, "err", err)
					return err
				}
				base = base.WithEnviron(fallback)
			}

			var transport client.Transport
			if uri := cCtx.String("direct-store"); uri != "" {
				store, err := storage.NewStoreFactory(logger).WithVaultToken(cCtx.String(flags.VaultTokenFlag.Name)).StoreFor(uri)
				if err != nil {
					logger.Error("Failed to create backing store", "err", err)
					return err
				}
				transport = client.StoreTransport{Store: store}
			} else {
				transport = secretshandler.NewClient(cCtx.String(flags.GatewayURLFlag.Name))
			}

			c := client.New(transport, client.Config{
				ServiceName:        serviceName,
				Sections:           cCtx.StringSlice("section"),
				MaxRetries:         cCtx.Int("max-retries"),
				Backoff:            backoff,
				RetryDelay:         cCtx.Duration("retry-delay"),
				ReadyAttempts:      cCtx.Int("ready-attempts"),
				Rules:              client.ValidationRules{MinSigningKeyLength: cCtx.Int("min-signing-key-length")},
				AllowDegradedStart: cCtx.Bool("allow-degraded-start"),
				Base:               &base,
				Logger:             logger,
			})

			snap, err := c.Load(cCtx.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			for _, st := range snap.Sections() {
				logger.Info("Section loaded", "section", st.Name, "state", st.State.String(), "attempts", st.Attempts)
			}

			env := snap.Environ()
			output := cCtx.String("output")
			if output == "-" {
				content, err := godotenv.Marshal(env)
				if err != nil {
					return err
				}
				fmt.Println(content)
				return nil
			}

			if err := godotenv.Write(env, output); err != nil {
				logger.Error("Failed to write env file", "file", output, "err", err)
				return err
			}
			if err := os.Chmod(output, 0600); err != nil {
				return err
			}
			logger.Info("Configuration written", "file", output, "degraded", snap.Degraded(), "variables", len(env))
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
