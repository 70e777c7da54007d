package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/assistant-relay/internal/client"
)

var (
	serverURL string
	token     string
	timeout   time.Duration
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "relayctl",
	Short:         "Talk to an assistant relay from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("RELAY_URL", "http://localhost:8080"), "relay base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("RELAY_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "timeout for one message, stream included")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(sendCmd, uploadCmd, conversationsCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newClient() (*client.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("no token: pass --token or set RELAY_TOKEN")
	}
	lvl := zerolog.WarnLevel
	if verbose {
		lvl = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
	return client.New(client.Options{BaseURL: serverURL, Token: token, Timeout: timeout}, log), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
