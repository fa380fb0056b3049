package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"Mansoor88-6/driver-agent/internal/config"
	"Mansoor88-6/driver-agent/internal/logger"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/queue"
	"Mansoor88-6/driver-agent/internal/repository"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "config/local.yaml"
	localAPITimeout   = 3 * time.Second
)

var configFile string

// BuildCLI assembles the driver-agent command tree
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driver-agent",
		Short: "Offline-tolerant trip sync agent for drivers",
		Long: `driver-agent keeps a driver's trips in a durable local queue, syncs them to
the backend whenever the device is online and logged in, and serves a local
API for the driver UI.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildEnqueueCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// Execute runs the CLI
func Execute() error {
	return BuildCLI().Execute()
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the driver agent",
		Long:  "Start the sync service, connectivity monitor and local API, and run until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("Starting driver agent",
				zap.String("env", cfg.Env),
				zap.String("config_path", configFile),
			)

			app, err := NewApp(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("Driver agent stopped")
			return nil
		},
	}
}

func buildEnqueueCommand() *cobra.Command {
	var tripFile string
	var direct bool

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue trips from a YAML or JSON file",
		Long: `Read trip payloads from a YAML or JSON file and add them to the queue.
When the agent is running they are handed to its local API. --direct writes
straight into the durable queue and is for a stopped agent only; it is refused
while the local API answers, since the agent owns the queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tripFile == "" {
				return fmt.Errorf("trip file is required (use --file or -f)")
			}
			return enqueueTrips(cmd.Context(), cmd.OutOrStdout(), tripFile, direct)
		},
	}

	cmd.Flags().StringVarP(&tripFile, "file", "f", "", "YAML or JSON file containing trip payloads")
	cmd.Flags().BoolVar(&direct, "direct", false, "write to the queue store directly (agent must be stopped)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func enqueueTrips(ctx context.Context, out io.Writer, path string, direct bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read trip file: %w", err)
	}
	payloads, err := parsePayloads(data)
	if err != nil {
		return err
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Server.Enabled && agentRunning(ctx, cfg.Server.Port) {
		if direct {
			return fmt.Errorf("agent is running on port %d; drop --direct so it queues the trips", cfg.Server.Port)
		}
		n, err := enqueueViaAgent(ctx, cfg.Server.Port, payloads)
		if err != nil {
			return fmt.Errorf("running agent rejected trips: %w", err)
		}
		fmt.Fprintf(out, "Queued %d trip(s) via running agent\n", n)
		return nil
	}
	log.Debug("Local API unavailable, writing queue directly")

	b, err := openBase(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer b.close(log.Logger)

	q := queue.New(b.store, nil, nil, b.ids, queue.Options{MaxRetries: cfg.Queue.MaxRetries}, log.Logger)
	if err := q.Load(ctx); err != nil {
		return err
	}
	items, err := q.AddTripsBatch(ctx, payloads)
	if err != nil {
		return fmt.Errorf("failed to queue trips: %w", err)
	}

	for _, item := range items {
		fmt.Fprintf(out, "Queued %s %s\n", item.ClientID, item.Payload.Route)
	}
	return nil
}

// agentRunning reports whether a local API answers its health check
func agentRunning(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, localAPITimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%d/health", port), nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func enqueueViaAgent(ctx context.Context, port int, payloads []models.TripPayload) (int, error) {
	body, err := json.Marshal(payloads)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, localAPITimeout)
	defer cancel()
	url := fmt.Sprintf("http://localhost:%d/api/v1/queue", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("local API returned status %d", resp.StatusCode)
	}

	var items []models.QueueItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return 0, fmt.Errorf("failed to parse local API response: %w", err)
	}
	return len(items), nil
}

func buildStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue state and recent syncs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent syncs to show")
	return cmd
}

func showStatus(ctx context.Context, out io.Writer, limit int) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	b, err := openBase(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer b.close(log.Logger)

	items, err := queue.ReadItems(ctx, b.store)
	if err != nil {
		return err
	}
	stats := queue.CountStats(items, cfg.Queue.MaxRetries)

	fmt.Fprintf(out, "Config:    %s\n", configFile)
	fmt.Fprintf(out, "Device:    %s\n", b.deviceID)
	fmt.Fprintf(out, "Storage:   %s\n", cfg.Storage.Driver)
	fmt.Fprintf(out, "Queue:     %d total, %d pending, %d syncing, %d failed (%d exhausted)\n",
		stats.Total, stats.Pending, stats.Syncing, stats.Failed, stats.Exhausted)

	if len(items) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CLIENT ID\tROUTE\tSTATUS\tATTEMPTS\tLAST ERROR")
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", item.ClientID, item.Payload.Route, item.Status, item.Attempts, item.LastError)
		}
		tw.Flush()
	}

	records, err := repository.NewSyncHistoryRepository(b.db.DB).Recent(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	if len(records) == 0 {
		fmt.Fprintln(out, "No syncs recorded yet")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FLUSHED AT\tSUBMITTED\tSENT\tFAILED\tERROR")
	for _, r := range records {
		at := time.UnixMilli(r.FlushedAt).Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", at, r.Submitted, r.Sent, r.Failed, r.Error)
	}
	return tw.Flush()
}
