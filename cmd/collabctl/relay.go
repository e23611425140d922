package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/collabkit/channels/pkg/metrics"
	"github.com/collabkit/channels/pkg/relay"
)

var errBadToken = errors.New("invalid join token")

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a collaboration relay",
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().String("addr", "", "listen address")
	_ = viper.BindPFlag("relay.addr", relayCmd.Flags().Lookup("addr"))
}

// tokenAuthorizer accepts joins whose "token" param is one of tokens.
// An empty token list accepts every join.
func tokenAuthorizer(tokens []string) relay.AuthorizeFunc {
	if len(tokens) == 0 {
		return nil
	}
	return func(_ string, params map[string]any) error {
		token, _ := params["token"].(string)
		if !slices.Contains(tokens, token) {
			return errBadToken
		}
		return nil
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	log, closeLog, err := newLogger(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeLog()

	codec, err := cfg.ProtocolCodec()
	if err != nil {
		return err
	}

	server := relay.NewServer(relay.Config{
		Addr:             cfg.Relay.Addr,
		Authorize:        tokenAuthorizer(cfg.Relay.Tokens),
		CompactThreshold: cfg.Relay.CompactThreshold,
		Logger:           log,
		Metrics:          metrics.NewRelay(prometheus.DefaultRegisterer),
		Codec:            &codec,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}
	log.Info("relay listening", "url", server.URL())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	<-sig

	log.Info("relay shutting down")
	return server.Stop()
}
