package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajramos/gmail-customlist/internal/config"
	"github.com/ajramos/gmail-customlist/internal/logging"
	"github.com/ajramos/gmail-customlist/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// env carries what every subcommand needs after global flags are parsed
type env struct {
	cfg       *config.Config
	credPath  string
	tokenPath string
	log       *logging.Logger
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
}

type command struct {
	name    string
	summary string
	run     func(e *env, args []string) error
}

var commands = []command{
	{"decode", "Decode a captured search or thread-detail response", runDecode},
	{"convert", "Convert between legacy thread ids and protocol numerals", runConvert},
	{"rewrite", "Reorder a captured search response offline", runRewrite},
	{"resolve", "Resolve thread descriptors against Gmail", runResolve},
	{"prune", "Drop identifier cache entries older than a cutoff", runPrune},
	{"simulate", "Replay a capture through a registered custom list", runSimulate},
	{"version", "Show version information", runVersion},
}

// errUsage means the subcommand already printed its usage
var errUsage = errors.New("usage")

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("customlist", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPathFlag := fs.String("config", "", "Path to configuration file, JSON or YAML (default: ~/.config/gmail-customlist/config.json)")
	credPathFlag := fs.String("credentials", "", "Path to OAuth client credentials JSON (default: ~/.config/gmail-customlist/credentials.json)")
	tokenPathFlag := fs.String("token", "", "Path to the OAuth token cache (default: ~/.config/gmail-customlist/token.json)")
	fs.Usage = func() { usage(stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}

	name := fs.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(stderr)
		return 2
	}

	cfg, err := config.LoadConfig(getConfigPath(*configPathFlag))
	if err != nil {
		fmt.Fprintf(stderr, "Warning: could not load configuration: %v\n", err)
		cfg = config.DefaultConfig()
	}

	logger, err := logging.New(logging.Options{
		FilePath: expandPath(cfg.Log.File),
		Level:    cfg.Log.Level,
		Console:  cfg.Log.Console,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Warning: could not open log file: %v\n", err)
		logger, _ = logging.New(logging.Options{Level: cfg.Log.Level, Console: cfg.Log.Console})
	}
	defer func() { _ = logger.Close() }()

	e := &env{
		cfg:       cfg,
		credPath:  getCredentialsPath(*credPathFlag, cfg.Credentials),
		tokenPath: getTokenPath(*tokenPathFlag, cfg.Token),
		log:       logger,
		stdin:     os.Stdin,
		stdout:    stdout,
		stderr:    stderr,
	}

	if err := cmd.run(e, fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		logger.Error("command failed", "command", name, "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "%s\n\n", version.GetVersionString())
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  customlist [options] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  customlist decode capture.json            # Show the threads in a captured response\n")
	fmt.Fprintf(w, "  customlist rewrite capture.json 18c0 18a2 # Reorder a capture to the given threads\n")
	fmt.Fprintf(w, "  customlist resolve 18c0 '<id@host>'       # Look ids up through the Gmail API\n\n")
	fmt.Fprintf(w, "Options:\n")
	fmt.Fprintf(w, "  --config string\n        %s\n", "Path to configuration file, JSON or YAML (default: ~/.config/gmail-customlist/config.json)")
	fmt.Fprintf(w, "  --credentials string\n        %s\n", "Path to OAuth client credentials JSON (default: ~/.config/gmail-customlist/credentials.json)")
	fmt.Fprintf(w, "  --token string\n        %s\n\n", "Path to the OAuth token cache (default: ~/.config/gmail-customlist/token.json)")
	fmt.Fprintf(w, "Environment Variables:\n")
	fmt.Fprintf(w, "  CUSTOMLIST_CONFIG      Override default config file path\n")
	fmt.Fprintf(w, "  CUSTOMLIST_CREDENTIALS Override default credentials file path\n")
	fmt.Fprintf(w, "  CUSTOMLIST_TOKEN       Override default token file path\n")
}

// getConfigPath returns the configuration file path using the following priority:
// 1. CLI flag
// 2. Environment variable CUSTOMLIST_CONFIG
// 3. Default path ~/.config/gmail-customlist/config.json
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envPath := os.Getenv("CUSTOMLIST_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}

	return config.DefaultConfigPath()
}

// getCredentialsPath returns the credentials file path using the following priority:
// 1. CLI flag
// 2. Environment variable CUSTOMLIST_CREDENTIALS
// 3. Config file setting
// 4. Default path ~/.config/gmail-customlist/credentials.json
func getCredentialsPath(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envPath := os.Getenv("CUSTOMLIST_CREDENTIALS"); envPath != "" {
		return expandPath(envPath)
	}

	if configValue != "" {
		return expandPath(configValue)
	}

	credPath, _ := config.DefaultCredentialPaths()
	return credPath
}

// getTokenPath returns the token file path using the following priority:
// 1. CLI flag
// 2. Environment variable CUSTOMLIST_TOKEN
// 3. Config file setting
// 4. Default path ~/.config/gmail-customlist/token.json
func getTokenPath(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envPath := os.Getenv("CUSTOMLIST_TOKEN"); envPath != "" {
		return expandPath(envPath)
	}

	if configValue != "" {
		return expandPath(configValue)
	}

	_, tokenPath := config.DefaultCredentialPaths()
	return tokenPath
}

// expandPath expands ~ to the user's home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return home
	}

	return filepath.Join(home, path[2:])
}
