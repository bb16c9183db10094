package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ruteri/secrets-gateway/api"
	"github.com/ruteri/secrets-gateway/api/secretshandler"
	"github.com/ruteri/secrets-gateway/bootstrap"
	"github.com/ruteri/secrets-gateway/cmd/flags"
	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/urfave/cli/v2"
)

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
	Usage: "request timeout",
}

var flagData = &cli.StringFlag{
	Name:  "data",
	Usage: "JSON object to write",
}

var flagDataFile = &cli.StringFlag{
	Name:  "data-file",
	Usage: "file containing the JSON object to write",
}

var flagField = &cli.StringFlag{
	Name:     "field",
	Required: true,
	Usage:    "field to rotate",
}

var flagService = &cli.StringFlag{
	Name:     "service",
	Required: true,
	Usage:    "service the token is issued to",
}

var flagPolicy = &cli.StringSliceFlag{
	Name:     "policy",
	Required: true,
	Usage:    "policy bound to the token, repeatable",
}

var flagToken = &cli.StringFlag{
	Name:     "token",
	Required: true,
	Usage:    "token to inspect",
}

var flagPath = &cli.StringFlag{
	Name:     "path",
	Required: true,
	Usage:    "secret path",
}

func newClient(cCtx *cli.Context) *secretshandler.Client {
	c := secretshandler.NewClient(cCtx.String(flags.GatewayURLFlag.Name))
	c.HTTPClient = &http.Client{Timeout: cCtx.Duration(flagTimeout.Name)}
	return c
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pathArg(cCtx *cli.Context) (string, error) {
	if cCtx.NArg() != 1 {
		return "", fmt.Errorf("%w: expected exactly one secret path argument", interfaces.ErrInvalidArgument)
	}
	return cCtx.Args().First(), nil
}

func main() {
	app := &cli.App{
		Name:           "gatewayctl",
		Usage:          "Operate a running secrets gateway",
		DefaultCommand: "health",
		Flags: []cli.Flag{
			flags.GatewayURLFlag,
			flagTimeout,
		},
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "show gateway and backing store health",
				Action: func(cCtx *cli.Context) error {
					health, err := newClient(cCtx).Health(cCtx.Context)
					if err != nil {
						return err
					}
					if err := printJSON(health); err != nil {
						return err
					}
					if health.Status != api.StatusHealthy {
						return cli.Exit("", 1)
					}
					return nil
				},
			},
			{
				Name:      "read",
				Usage:     "print the document at a path",
				ArgsUsage: "<path>",
				Action: func(cCtx *cli.Context) error {
					path, err := pathArg(cCtx)
					if err != nil {
						return err
					}
					doc, err := newClient(cCtx).Read(cCtx.Context, path)
					if err != nil {
						return err
					}
					return printJSON(doc)
				},
			},
			{
				Name:      "write",
				Usage:     "replace the document at a path",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{flagData, flagDataFile},
				Action: func(cCtx *cli.Context) error {
					path, err := pathArg(cCtx)
					if err != nil {
						return err
					}

					raw := []byte(cCtx.String(flagData.Name))
					if file := cCtx.String(flagDataFile.Name); file != "" {
						raw, err = os.ReadFile(file)
						if err != nil {
							return fmt.Errorf("could not read data file: %w", err)
						}
					}
					if len(raw) == 0 {
						return errors.New("one of --data or --data-file is required")
					}

					var doc interfaces.Document
					if err := json.Unmarshal(raw, &doc); err != nil {
						return fmt.Errorf("data is not a JSON object: %w", err)
					}
					if err := newClient(cCtx).Write(cCtx.Context, path, doc); err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "wrote %s (%d fields)\n", path, len(doc))
					return nil
				},
			},
			{
				Name:      "rotate",
				Usage:     "rotate one field of the document at a path",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{flagField},
				Action: func(cCtx *cli.Context) error {
					path, err := pathArg(cCtx)
					if err != nil {
						return err
					}
					res, err := newClient(cCtx).Rotate(cCtx.Context, path, cCtx.String(flagField.Name))
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:  "rotate-jwt",
				Usage: "rotate the JWT signing key",
				Action: func(cCtx *cli.Context) error {
					res, err := newClient(cCtx).RotateJWT(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:  "token",
				Usage: "issue a service token",
				Flags: []cli.Flag{flagService, flagPolicy},
				Action: func(cCtx *cli.Context) error {
					token, err := newClient(cCtx).IssueToken(cCtx.Context, cCtx.String(flagService.Name), cCtx.StringSlice(flagPolicy.Name))
					if err != nil {
						return err
					}
					return printJSON(api.ServiceTokenResponse{Token: token})
				},
			},
			{
				Name:  "capabilities",
				Usage: "show what a token may do on a path",
				Flags: []cli.Flag{flagToken, flagPath},
				Action: func(cCtx *cli.Context) error {
					path := cCtx.String(flagPath.Name)
					caps, err := newClient(cCtx).Capabilities(cCtx.Context, cCtx.String(flagToken.Name), path)
					if err != nil {
						return err
					}
					return printJSON(api.CapabilitiesResponse{Path: path, Capabilities: caps})
				},
			},
			{
				Name:      "validate-spec",
				Usage:     "validate a YAML seed specification without contacting the gateway",
				ArgsUsage: "<file>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return errors.New("expected exactly one file argument")
					}
					spec, err := bootstrap.LoadSpec(cCtx.Args().First())
					if err != nil {
						return err
					}
					fmt.Printf("valid: %d policies, %d secrets\n", len(spec.Policies), len(spec.Secrets))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
