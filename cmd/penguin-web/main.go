package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/penguin-studio/internal/api"
	"github.com/fpang/penguin-studio/internal/boot"
)

// CLI flags
var (
	configFlag string
	portFlag   int
)

var rootCmd = &cobra.Command{
	Use:   "penguin-web",
	Short: "Penguin Studio web server",
	Long: `Penguin Studio serves the prompt → enhance → generate → approve workflow
and the share action over HTTP.

Settings come from the environment, .env/.env.local, an optional config file
and, when SSM_PREFIX is set, AWS Systems Manager Parameter Store.

Examples:
  penguin-web
  penguin-web --port 9090
  penguin-web --config penguin.yaml`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Optional YAML or JSON config file")
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides PORT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := boot.Load(ctx, boot.Options{Name: "penguin-web", ConfigFile: configFlag})
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return err
	}
	defer app.Close()
	app.Run(ctx)

	addr := app.Config.Addr()
	if portFlag > 0 {
		addr = fmt.Sprintf(":%d", portFlag)
	}
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewRouter(api.Options{
			Workflow:    app.Workflow,
			Metrics:     app.Metrics,
			Webhook:     webhookHandler(app),
			MediaDir:    app.MediaDir,
			CORSOrigins: app.Config.CORSOrigins,
		}),
		ReadTimeout: 30 * time.Second,
		// Video generation blocks the request for up to VIDEO_TIMEOUT.
		WriteTimeout: app.Config.VideoTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
	}()

	log.Info().Str("addr", addr).Msg("Starting web server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
		return err
	}
	return nil
}

// webhookHandler avoids handing the router a typed nil.
func webhookHandler(app *boot.App) http.Handler {
	if app.Webhook == nil {
		return nil
	}
	return app.Webhook
}
