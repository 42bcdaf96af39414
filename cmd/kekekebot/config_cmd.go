package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kekekebot/kekeke-go/config"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or check the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a config file with default settings and a fresh anonymous id.

Pass --topic to fill in the room. An existing file is kept unless --force
is given.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and print the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

func init() {
	configInitCmd.Flags().StringVarP(&topicFlag, "topic", "t", "", "topic room to join")
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !forceInit {
		return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg, err := config.Read("")
	if err != nil {
		return err
	}
	if topicFlag != "" {
		cfg.Topic = topicFlag
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ping, _ := cfg.PingEvery()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nickname:      %s\n", cfg.NickName)
	fmt.Fprintf(out, "topic:         %s\n", cfg.Topic)
	fmt.Fprintf(out, "endpoint:      %s\n", cfg.Endpoint)
	fmt.Fprintf(out, "ping interval: %s\n", ping)
	fmt.Fprintf(out, "dedup:         %t\n", cfg.DedupEnabled())
	fmt.Fprintf(out, "log level:     %s\n", cfg.LogLevel)
	return nil
}
