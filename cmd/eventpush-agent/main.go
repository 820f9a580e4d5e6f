package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fiffu/eventpush/client"
	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventpush-agent",
	Short: "Command-line client for an eventpush server",
	Long: `eventpush-agent registers push subscriptions, dispatches notifications
and runs the client runtime (notification taps, update checks and the
offline record cache) against an eventpush server.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"eventpush-agent version %s\nCommit: %s\nBuilt: %s\n",
		config.Version, config.Commit, config.BuildTimestamp,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("server", envOr("EVENTPUSH_SERVER", "http://localhost:8080"), "eventpush server base URL")
	flags.String("user", os.Getenv("EVENTPUSH_USER"), "authenticated user to act as")
	flags.String("session-header", client.DefaultSessionHeader, "header carrying the authenticated user")
	flags.String("operator", os.Getenv("EVENTPUSH_OPERATOR"), "operator credentials as user:pass")
	flags.String("data-url", os.Getenv("EVENTPUSH_DATA_URL"), "base URL of the data service")
	flags.String("cache", "eventpush-cache.db", "path of the offline record cache")
	flags.Bool("verbose", false, "log at debug level")

	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(unsubscribeCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(watchCmd)

	subscribeCmd.Flags().String("endpoint", "", "push service endpoint URL")
	subscribeCmd.Flags().String("p256dh", "", "subscriber public key")
	subscribeCmd.Flags().String("auth", "", "subscriber auth secret")
	subscribeCmd.Flags().String("device-id", "", "anonymous device identifier")
	subscribeCmd.Flags().String("client", "eventpush-agent", "client descriptor")

	unsubscribeCmd.Flags().String("endpoint", "", "push service endpoint URL")
	unsubscribeCmd.Flags().String("device-id", "", "device whose subscription to remove")

	dispatchCmd.Flags().String("title", "", "notification title")
	dispatchCmd.Flags().String("body", "", "notification body")
	dispatchCmd.Flags().String("icon", "", "icon path")
	dispatchCmd.Flags().String("badge", "", "badge path")
	dispatchCmd.Flags().String("tag", "", "grouping tag")
	dispatchCmd.Flags().String("data", "", "JSON object passed through to the client")

	eventsCmd.Flags().Bool("offline", false, "only read the local cache")
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Register a push subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		p256dh, _ := cmd.Flags().GetString("p256dh")
		auth, _ := cmd.Flags().GetString("auth")
		deviceID, _ := cmd.Flags().GetString("device-id")
		clientDescriptor, _ := cmd.Flags().GetString("client")

		sub, err := newClient(cmd).Subscribe(cmd.Context(), client.SubscribeRequest{
			EndpointDescriptor: models.EndpointDescriptor{
				Endpoint: endpoint,
				Keys:     models.EndpointKeys{P256dh: p256dh, Auth: auth},
			},
			DeviceID:         deviceID,
			ClientDescriptor: clientDescriptor,
		})
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		return printJSON(sub)
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Remove a push subscription",
	Long: `Remove a push subscription. With --user the signed-in user's
subscriptions are removed; otherwise --device-id or --endpoint selects one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		deviceID, _ := cmd.Flags().GetString("device-id")

		removed, err := newClient(cmd).Unsubscribe(cmd.Context(), client.UnsubscribeRequest{
			Endpoint: endpoint,
			DeviceID: deviceID,
		})
		if err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
		return printJSON(map[string]int64{"removed": removed})
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send a notification to every subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := models.NotificationPayload{}
		payload.Title, _ = cmd.Flags().GetString("title")
		payload.Body, _ = cmd.Flags().GetString("body")
		payload.Icon, _ = cmd.Flags().GetString("icon")
		payload.Badge, _ = cmd.Flags().GetString("badge")
		payload.Tag, _ = cmd.Flags().GetString("tag")
		if data, _ := cmd.Flags().GetString("data"); data != "" {
			if !json.Valid([]byte(data)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			payload.Data = json.RawMessage(data)
		}

		result, err := newClient(cmd).Dispatch(cmd.Context(), payload)
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		return printJSON(result)
	},
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	user, _ := cmd.Flags().GetString("user")
	header, _ := cmd.Flags().GetString("session-header")
	operator, _ := cmd.Flags().GetString("operator")
	dataURL, _ := cmd.Flags().GetString("data-url")

	opts := []client.Option{client.WithDataURL(dataURL)}
	if user != "" {
		opts = append(opts, client.WithPrincipal(header, user))
	}
	if name, pass, ok := strings.Cut(operator, ":"); ok {
		opts = append(opts, client.WithOperator(name, pass))
	}
	return client.New(server, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
