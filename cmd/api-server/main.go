// Command api-server runs the storefront pricing and payment API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	server "github.com/vendora/bazaar/internal/app"
)

func main() {
	app.Run(serve)
}

func serve(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	return server.Run(ctx, lg, m, cfg)
}
