package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Vennela115/CampusVinculum/internal/server"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "campusvinculum",
	Short: "Realtime chat, presence and WebRTC signaling for campus sessions",
	Long: `campusvinculum serves chat rooms, private messages, typing indicators,
presence and WebRTC signaling over a single WebSocket endpoint, plus a small
REST API for scheduling live video sessions.

Settings come from flags, then environment variables (optionally loaded from
a .env file), then an optional YAML config file, then defaults.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./campusvinculum.yaml if present)")
	flags.String("port", "", "listen address, e.g. :8080")
	flags.String("allowed-origins", "", "comma separated WebSocket origins, or *")
	flags.String("store-driver", "", "persistence backend: sqlite or postgres")
	flags.String("store-dsn", "", "database DSN")
	flags.String("redis-url", "", "redis:// URL for the presence mirror (disabled when empty)")
	flags.String("log-level", "", "trace, debug, info, warn or error")
	flags.String("log-format", "", "console or json")

	bind := map[string]string{
		server.KeyPort:           "port",
		server.KeyAllowedOrigins: "allowed-origins",
		server.KeyStoreDriver:    "store-driver",
		server.KeyStoreDSN:       "store-dsn",
		server.KeyRedisURL:       "redis-url",
		server.KeyLogLevel:       "log-level",
		server.KeyLogFormat:      "log-format",
	}
	for key, flag := range bind {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}
	server.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(serveCmd)
}

// initConfig loads .env, the environment and the optional config file.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Warning: .env file could not be loaded:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("campusvinculum")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}
