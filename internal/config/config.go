package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// EnvAuthToken is the fallback credential source when -a is not given.
	EnvAuthToken = "DISCORD_AUTH_TOKEN"

	// EnvBaseURL overrides the API base URL, mainly for testing against a
	// local stub.
	EnvBaseURL = "DISCORD_API_URL"

	defaultDBPath = "./data/messages.db"
)

var (
	ErrMissingToken    = errors.New("config: no authorization token found (use -a or set " + EnvAuthToken + ")")
	ErrMissingChannels = errors.New("config: no channel IDs given")
)

// Config holds all configuration for one scraper run.
type Config struct {
	AuthToken   string
	DBPath      string
	BaseURL     string
	MetricsAddr string
	ChannelIDs  []string
	Verbose     bool
	ShowVersion bool
}

// Parse reads configuration from CLI arguments and environment variables.
// A .env file is loaded first if present. The -a flag takes precedence over
// the environment variable. Returns flag.ErrHelp when help was requested.
func Parse(args []string, output io.Writer) (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL: os.Getenv(EnvBaseURL),
	}

	fs := flag.NewFlagSet("discord-scraper", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.AuthToken, "a", "", "Discord authorization token")
	fs.StringVar(&cfg.AuthToken, "auth", "", "Discord authorization token")
	fs.StringVar(&cfg.DBPath, "d", defaultDBPath, "database path")
	fs.StringVar(&cfg.DBPath, "db-path", defaultDBPath, "database path")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address while scraping")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose (debug) logging")
	fs.BoolVar(&cfg.ShowVersion, "V", false, "print version and exit")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: discord-scraper [flags] <channel_id>[,<channel_id>...]\n\n")
		fmt.Fprintf(output, "Scrapes the full message history of the given channels into a local SQLite database.\n\n")
		fs.PrintDefaults()
		fmt.Fprintf(output, "\nEnvironment:\n  %s   authorization token (flag takes precedence)\n  %s      API base URL override\n", EnvAuthToken, EnvBaseURL)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv(EnvAuthToken)
	}
	if cfg.AuthToken == "" {
		return nil, ErrMissingToken
	}

	cfg.ChannelIDs = splitChannelIDs(fs.Args())
	if len(cfg.ChannelIDs) == 0 {
		return nil, ErrMissingChannels
	}

	return cfg, nil
}

// splitChannelIDs flattens positional arguments, each possibly a
// comma-separated list, into one slice of non-empty IDs.
func splitChannelIDs(args []string) []string {
	var ids []string
	for _, arg := range args {
		for _, id := range strings.Split(arg, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
