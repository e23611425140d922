package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/collabkit/channels"
	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/connection/gorillaws"
	"github.com/collabkit/channels/pkg/logger"
	"github.com/collabkit/channels/pkg/metrics"
	"github.com/collabkit/channels/pkg/tracing"
)

var followCmd = &cobra.Command{
	Use:   "follow ROOM [ROOM...]",
	Short: "Migrate through rooms in order, printing the registry after every change",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFollow,
}

func init() {
	followCmd.Flags().String("url", "", "relay websocket URL")
	followCmd.Flags().String("token", "", "join token sent to the relay")
	followCmd.Flags().Duration("interval", 0, "pause between migrations")
	_ = viper.BindPFlag("client.url", followCmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("client.token", followCmd.Flags().Lookup("token"))
	_ = viper.BindPFlag("client.interval", followCmd.Flags().Lookup("interval"))
}

func runFollow(cmd *cobra.Command, rooms []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, closeLog, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	codec, err := cfg.ProtocolCodec()
	if err != nil {
		return err
	}
	socket, err := gorillaws.Dial(ctx, cfg.Client.URL, gorillaws.WithLogger(log), gorillaws.WithCodec(codec))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = socket.Close(closeCtx)
	}()

	reg := channels.New(
		channels.WithLogger(log),
		channels.WithSettleTimeout(cfg.Client.SettleTimeout),
		channels.WithDrainGracePeriod(cfg.Client.DrainGracePeriod),
		channels.WithMetrics(metrics.NewRegistry(prometheus.DefaultRegisterer)),
		channels.WithTracer(provider.Tracer()),
	)
	defer reg.Destroy()

	out := cmd.OutOrStdout()
	unsubscribe := reg.Subscribe(func() { printSnapshot(out, log, reg.Snapshot()) })
	defer unsubscribe()

	var params collab.JoinParams
	if cfg.Client.Token != "" {
		params = collab.JoinParams{"token": cfg.Client.Token}
	}

	return follow(ctx, reg, socket, rooms, params, cfg.Client.Interval, log)
}

// follow migrates reg through rooms, pausing interval between migrations.
// It returns once the last room has had its interval, or ctx is done.
func follow(ctx context.Context, reg *channels.Registry, conn collab.Opener, rooms []string,
	params collab.JoinParams, interval time.Duration, log logger.Logger) error {
	for _, room := range rooms {
		settlement, err := reg.Migrate(ctx, conn, room, params)
		if err != nil {
			return err
		}

		go func() {
			if err := settlement.Wait(ctx); err != nil {
				log.Warn("migration did not settle", "room", room, "error", err)
			}
		}()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

func printSnapshot(w io.Writer, log logger.Logger, snap channels.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Error("encoding snapshot", "error", err)
		return
	}
	fmt.Fprintln(w, string(data))
}
