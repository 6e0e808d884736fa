package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/viant/hitl"
	"github.com/viant/hitl/gateway"
	reqfs "github.com/viant/hitl/service/dao/request/fs"
	"github.com/viant/hitl/service/notify/slack"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	var (
		cfgPath      string
		addr         string
		storeBaseURL string
		pollInterval time.Duration
		apiKeys      []string
		slackToken   string
		portalURL    string
		traceOutput  string
	)

	root := &cobra.Command{
		Use:     "hitl",
		Short:   "Human-in-the-loop coordination service for agent workflows",
		Long: `Runs the coordination service: agents submit requests for human
decisions, the engine routes them to responders, enforces timeouts and
escalation, and exposes everything over an HTTP API with a live event
stream.`,
		Example: `  hitl --addr :3100
  hitl --config /etc/hitl/config.yaml
  hitl --store file:///var/lib/hitl --slack-token xoxb-...`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			config := hitl.DefaultConfig()
			if cfgPath != "" {
				loaded, err := hitl.LoadConfig(ctx, cfgPath)
				if err != nil {
					return err
				}
				config = loaded
			}
			// flags override the config file
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["addr"] {
				config.Gateway.Addr = addr
			}
			if changed["store"] {
				config.Store.BaseURL = storeBaseURL
			}
			if changed["poll"] {
				config.Scheduler.PollingInterval = pollInterval
			}
			if len(apiKeys) > 0 {
				config.Gateway.APIKeys = apiKeys
			}
			if slackToken != "" {
				config.Slack.Token = slackToken
			}
			if portalURL != "" {
				config.Slack.PortalURL = portalURL
			}
			if err := config.Validate(); err != nil {
				return err
			}

			options := []hitl.Option{
				hitl.WithConfig(config),
				hitl.WithLogger(logger),
			}
			if config.Store.BaseURL != "" {
				store, err := reqfs.New(config.Store.BaseURL)
				if err != nil {
					return fmt.Errorf("open request store: %w", err)
				}
				options = append(options, hitl.WithRequestDAO(store))
				logger.Info().Str("baseURL", config.Store.BaseURL).Msg("using persistent request store")
			}
			if config.Slack.Enabled() {
				slackOptions := []slack.Option{slack.WithPortalURL(config.Slack.PortalURL)}
				if config.Slack.Token != "" {
					slackOptions = append(slackOptions, slack.WithToken(config.Slack.Token))
				} else {
					slackOptions = append(slackOptions, slack.WithTokenResource(config.Slack.TokenURL, config.Slack.TokenKey))
				}
				options = append(options, hitl.WithNotifiers(slack.New(slackOptions...)))
				logger.Info().Msg("slack notifications enabled")
			}
			if traceOutput != "" {
				options = append(options, hitl.WithTracing("hitl", getVersion(), traceOutput))
			}

			service := hitl.New(options...)

			schedulerErr := make(chan error, 1)
			go func() {
				schedulerErr <- service.Start(ctx)
			}()
			defer service.Shutdown()

			server := gateway.New(service, logger)
			gatewayErr := make(chan error, 1)
			go func() {
				gatewayErr <- server.ListenAndServe(ctx)
			}()

			select {
			case <-ctx.Done():
				logger.Info().Msg("received signal, shutting down")
				return <-gatewayErr
			case err := <-gatewayErr:
				return err
			case err := <-schedulerErr:
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("scheduler: %w", err)
				}
				return <-gatewayErr
			}
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path or URL of a YAML config file")
	root.Flags().StringVar(&addr, "addr", ":3100", "gateway listen address")
	root.Flags().StringVar(&storeBaseURL, "store", "", "request store base URL (file://, s3://, ...); empty keeps requests in memory")
	root.Flags().DurationVar(&pollInterval, "poll", 10*time.Second, "timeout scan interval")
	root.Flags().StringSliceVar(&apiKeys, "api-key", nil, "API key accepted by the gateway (repeatable)")
	root.Flags().StringVar(&slackToken, "slack-token", "", "Slack bot token for responder notifications")
	root.Flags().StringVar(&portalURL, "portal-url", "", "base URL of the response portal linked from notifications")
	root.Flags().StringVar(&traceOutput, "trace-output", "", "file receiving trace spans")

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("hitl")
		os.Exit(1)
	}
}
