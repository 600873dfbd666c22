package servecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/httpserver"
	"chatrelay/pkg/logging"
)

const serveLongDesc string = `Run the server-hosted relay.

Exposes the REST endpoint at /api/chat and the GraphQL endpoint at /graphql.
Settings come from an optional YAML file, an optional .env file and the
environment; flags win over all of them.

Examples:
  chatrelay serve
  chatrelay serve --config chatrelay.yaml --port 9090`

const serveShortDesc string = "Serve the REST and GraphQL surfaces"

const edgeLongDesc string = `Run the edge relay.

Exposes only the GraphQL endpoint, at /graphql and at /. Every other path
answers 404 with a hint pointing at /graphql.

Examples:
  chatrelay edge --port 8787`

const edgeShortDesc string = "Serve only the GraphQL surface"

type serveCommander struct {
	variant    httpserver.Variant
	configPath string
	port       string
}

func NewServeCmd() *cobra.Command {
	return newCmd(httpserver.VariantServe, "serve", serveShortDesc, serveLongDesc)
}

func NewEdgeCmd() *cobra.Command {
	return newCmd(httpserver.VariantEdge, "edge", edgeShortDesc, edgeLongDesc)
}

func newCmd(variant httpserver.Variant, use, short, long string) *cobra.Command {
	cmder := &serveCommander{variant: variant}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&cmder.port, "port", "p", "", "Port to listen on (overrides PORT)")

	return cmd
}

func (c *serveCommander) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	if c.port != "" {
		cfg.Server.Port = c.port
	}
	return cfg, nil
}

func (c *serveCommander) run(ctx context.Context) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Options{Env: cfg.Log.Env, Level: cfg.Log.Level})
	if err != nil {
		return fmt.Errorf("could not build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, c.variant, logger)
	if err != nil {
		logger.Error("failed to build server", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", zap.Error(err))
		}
	}()

	return a.Run(ctx)
}
