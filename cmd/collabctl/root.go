package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/collabkit/channels/internal/config"
	"github.com/collabkit/channels/pkg/logger"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:          "collabctl",
	Short:        "Collaboration relay and channel migration client",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./collabctl.yaml or ~/.config/collabctl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-file", "", "append logs to this file instead of stdout")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(relayCmd, followCmd, configCmd)
}

func initConfig(*cobra.Command) error {
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// newLogger builds the zerolog-backed logger described by cfg.Log.
// The returned closer releases the log file, if any.
func newLogger(out io.Writer) (logger.Logger, func() error, error) {
	build, err := logger.NewBuild().FromBuffer(out).WithLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Log.File != "" {
		build = build.FromPath(cfg.Log.File)
	}
	data, err := build.Make()
	if err != nil {
		return nil, nil, fmt.Errorf("opening log: %w", err)
	}
	closer := func() error { return nil }
	if data.LogFile != nil {
		closer = data.LogFile.Close
	}
	return logger.NewZerolog(data.Logger), closer, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
