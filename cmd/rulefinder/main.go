package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"panorama-rulefinder/internal/config"
	"panorama-rulefinder/internal/engine"
	"panorama-rulefinder/internal/panorama"
	"panorama-rulefinder/internal/parser"
	"panorama-rulefinder/internal/report"
	"panorama-rulefinder/internal/resolver"
	"panorama-rulefinder/internal/server"
	"panorama-rulefinder/internal/store"
)

var configFile string

func newRootCmd() *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:   "rulefinder",
		Short: "Find Panorama security rules that reference an address or hostname",
		Long: `rulefinder copies the security rules of Panorama device groups into a
relational table and answers which rules reference the address objects
matching an IPv4 address, network or hostname.`,
		SilenceUsage: true,
	}

	// Set up flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (YAML)")
	pf.String("host", "", "Panorama hostname or address")
	pf.String("db", "", "Database connection string (mysql DSN or sqlite file)")
	pf.String("db-driver", "mysql", "Database driver: 'mysql' or 'sqlite'")
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("log-file", "", "Log file path (default: stderr)")

	bind(v, pf.Lookup("host"), config.KeyHost)
	bind(v, pf.Lookup("db"), config.KeyDBDSN)
	bind(v, pf.Lookup("db-driver"), config.KeyDBDriver)
	bind(v, pf.Lookup("log-level"), config.KeyLogLevel)
	bind(v, pf.Lookup("log-file"), config.KeyLogFile)

	rootCmd.AddCommand(newSyncCmd(v), newSearchCmd(v), newServeCmd(v))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newSyncCmd(v *viper.Viper) *cobra.Command {
	var groupsFile string

	cmd := &cobra.Command{
		Use:   "sync [device-group...]",
		Short: "Rebuild the rule table from the given device groups",
		Long: `sync drops and recreates the rule table, then copies the security rules of
each device group into it. Device groups come from the arguments, else from
--device-groups-file, else from the device_groups config key.`,
		PreRunE: bindLocal(v, map[string]string{"strict": config.KeyStrict}),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAPI(); err != nil {
				return err
			}
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}
			groups, err := deviceGroups(args, groupsFile, cfg.DeviceGroups)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cmd.OutOrStdout(), cfg, groups)
		},
	}

	cmd.Flags().StringVar(&groupsFile, "device-groups-file", "", "File with one device group per line")
	cmd.Flags().Bool("strict", false, "Fail a device group when any of its rules is invalid")
	return cmd
}

func newSearchCmd(v *viper.Viper) *cobra.Command {
	var (
		tokensFile string
		output     string
	)

	cmd := &cobra.Command{
		Use:     "search <address|network|hostname>...",
		Short:   "List the rules that reference objects matching each token",
		PreRunE: bindLocal(v, map[string]string{"dedupe": config.KeyDedupe}),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAPI(); err != nil {
				return err
			}
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}

			tokens := args
			if tokensFile != "" {
				fromFile, err := readListFile(tokensFile)
				if err != nil {
					return err
				}
				tokens = append(tokens, fromFile...)
			}
			if len(tokens) == 0 {
				return errors.New("nothing to search: pass a token or --tokens-file")
			}

			finder, st, err := buildFinder(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			return runSearch(cmd.Context(), cmd.OutOrStdout(), finder, output, tokens)
		},
	}

	cmd.Flags().StringVar(&tokensFile, "tokens-file", "", "File with one search token per line")
	cmd.Flags().StringVarP(&output, "output", "o", report.FormatTable, "Output format: 'table', 'json' or 'yaml'")
	cmd.Flags().Bool("dedupe", false, "Report each rule once even when several objects match")
	return cmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		PreRunE: bindLocal(v, map[string]string{
			"listen": config.KeyListen,
			"dedupe": config.KeyDedupe,
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAPI(); err != nil {
				return err
			}
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}

			finder, st, err := buildFinder(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			return server.New(finder, slog.Default()).ListenAndServe(cmd.Context(), cfg.Listen)
		},
	}

	cmd.Flags().String("listen", "127.0.0.1:8080", "Address to listen on")
	cmd.Flags().Bool("dedupe", false, "Report each rule once even when several objects match")
	return cmd
}

// bind panics on a nil flag, which only a typo in the flag name can cause.
func bind(v *viper.Viper, flag *pflag.Flag, key string) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// bindLocal binds subcommand flags when that subcommand runs, so flags of the
// same name on sibling commands do not replace each other's binding.
func bindLocal(v *viper.Viper, flags map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for name, key := range flags {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return err
			}
		}
		return nil
	}
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(setupLogger(cfg.LogLevel, cfg.LogFile))
	return cfg, nil
}

// deviceGroups picks the first non-empty source: arguments, file, config.
func deviceGroups(args []string, path string, configured []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if path != "" {
		return readListFile(path)
	}
	return configured, nil
}

func readListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return parser.ReadList(f)
}

func runSync(ctx context.Context, out io.Writer, cfg *config.Config, groups []string) error {
	startTime := time.Now()
	slog.Info("Starting Panorama rule sync", "device_groups", len(groups), "driver", cfg.Database.Driver)

	client, err := panorama.NewClient(cfg.Panorama)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		slog.Error("Failed to open rule store", "error", err)
		return err
	}
	defer st.Close()

	syncer := engine.NewSyncer(client, st)
	syncer.Strict = cfg.Strict

	summary, err := syncer.Refresh(ctx, groups)
	for _, g := range summary.Groups {
		status := "ok"
		if g.Err != nil {
			status = "FAILED: " + g.Err.Error()
		}
		fmt.Fprintf(out, "%-24s written=%-5d skipped=%-5d %s\n", g.DeviceGroup, g.Written, g.Skipped, status)
	}
	fmt.Fprintf(out, "run %s: %d rules written\n", summary.RunID, summary.Written())

	slog.Info("Sync complete", "run_id", summary.RunID, "written", summary.Written(), "duration", time.Since(startTime))
	return err
}

func buildFinder(cfg *config.Config) (*engine.Finder, *store.Store, error) {
	client, err := panorama.NewClient(cfg.Panorama)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}

	var hosts resolver.HostResolver
	if cfg.DNSServer != "" {
		hosts = resolver.NewDNSResolver(cfg.DNSServer, cfg.DNSTimeout)
	}

	finder := engine.NewFinder(resolver.New(client, hosts), st)
	finder.Dedupe = cfg.Dedupe
	return finder, st, nil
}

// runSearch renders every token in order. A failed token is reported and
// the rest are still searched.
func runSearch(ctx context.Context, out io.Writer, finder *engine.Finder, format string, tokens []string) error {
	var result *multierror.Error
	for _, token := range tokens {
		res, err := finder.Search(ctx, token)
		if err != nil {
			slog.Error("Search failed", "token", token, "error", err)
			result = multierror.Append(result, errors.Wrapf(err, "search %s", token))
			continue
		}
		if err := report.Render(out, format, res); err != nil {
			return err
		}
	}
	return result.ErrorOrNil()
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// The logger is not set up yet, so a bad path silently falls back to stderr.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}
