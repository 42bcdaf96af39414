// Command kekekebot runs a chat bot in a kekeke topic room.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	kekeke "github.com/kekekebot/kekeke-go"
	"github.com/kekekebot/kekeke-go/config"
	"github.com/kekekebot/kekeke-go/handshake"
)

var (
	configPath string
	verbose    bool

	topicFlag       string
	nickNameFlag    string
	anonymousIDFlag string
)

var rootCmd = &cobra.Command{
	Use:           "kekekebot",
	Short:         "Chat bot for kekeke topic rooms",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join a topic room and serve the built-in scripts",
	Long: `Authenticate anonymously, join the configured topic and answer chat
messages until interrupted.

Settings come from the config file, then KEKEKE_* environment variables,
then flags.`,
	RunE: runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kekekebot.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	runCmd.Flags().StringVarP(&topicFlag, "topic", "t", "", "topic room to join")
	runCmd.Flags().StringVarP(&nickNameFlag, "nickname", "n", "", "bot nickname, must end in \"bot\"")
	runCmd.Flags().StringVar(&anonymousIDFlag, "anonymous-id", "", "anonymous account id")

	rootCmd.AddCommand(runCmd, decodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and layers the run flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("topic") {
		cfg.Topic = topicFlag
	}
	if cmd.Flags().Changed("nickname") {
		cfg.NickName = nickNameFlag
	}
	if cmd.Flags().Changed("anonymous-id") {
		cfg.AnonymousID = anonymousIDFlag
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// newClient builds the transport described by cfg.
func newClient(cfg *config.Config) *kekeke.Client {
	auth := handshake.NewClient()
	auth.ServiceURL = cfg.ServiceURL
	auth.ModuleBase = cfg.ModuleBase

	ping, _ := cfg.PingEvery()
	return kekeke.NewClient(kekeke.Config{
		Endpoint:      cfg.Endpoint,
		Topic:         cfg.Topic,
		NickName:      cfg.NickName,
		AnonymousID:   cfg.AnonymousID,
		PingInterval:  ping,
		DisableDedup:  !cfg.DedupEnabled(),
		Authenticator: auth,
	})
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	bot, err := kekeke.New(newClient(cfg))
	if err != nil {
		return err
	}
	bot.ReceiveMiddleware(logReceived(logger))
	registerScripts(bot)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("joining topic", "topic", cfg.Topic, "nickname", cfg.NickName)
	return bot.Run(ctx)
}
