package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bz/internal/bugzilla"
	"github.com/joescharf/bz/internal/logging"
	"github.com/joescharf/bz/internal/output"
	"github.com/joescharf/bz/internal/store"
	"github.com/joescharf/bz/internal/xmlrpc"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	// Built lazily by getSchema.
	session     *bugzilla.Schema
	fieldSource *store.CachedFieldSource
	serviceURL  string

	verbose bool
	dryRun  bool
)

// newServiceFunc builds the remote service from config, replaceable in tests.
// It returns the service and the endpoint URL used as the cache key.
var newServiceFunc = newXMLRPCService

var rootCmd = &cobra.Command{
	Use:   "bz",
	Short: "Bugzilla client - read, search, and update bugs",
	Long: `bz talks to a Bugzilla instance over XML-RPC.

It shows and searches bugs, edits attributes and flags with change
tracking (only what changed is sent), adds comments, clones bugs, and
serves the same operations to agents over MCP.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeDeps()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/bz/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BZ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	defaultDir, _ := configDirFunc()
	setDefaults(defaultDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key so env overrides and config show
// see them.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "bz.db"))
	viper.SetDefault("bugzilla.url", "")
	viper.SetDefault("bugzilla.username", "")
	viper.SetDefault("bugzilla.password", "")
	viper.SetDefault("bugzilla.api_key", "")
	viper.SetDefault("bugzilla.timeout", int(xmlrpc.DefaultTimeout/time.Second))
	viper.SetDefault("bugzilla.product", "")
	viper.SetDefault("cache.fields", true)
	viper.SetDefault("cache.max_age", "24h")
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "text")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	logger = logging.New(logging.Options{Level: level, Format: viper.GetString("log.format")})
	slog.SetDefault(logger)

	// Store and service are opened lazily, only by commands that need them.
	// This allows config/version commands to run without a db or a server.
}

func closeDeps() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	session = nil
	fieldSource = nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

func newXMLRPCService() (bugzilla.Service, string, error) {
	url := viper.GetString("bugzilla.url")
	if url == "" {
		return nil, "", fmt.Errorf("bugzilla.url is not set (run 'bz config init' or set BZ_BUGZILLA_URL)")
	}
	c, err := xmlrpc.New(xmlrpc.Config{
		URL:      url,
		Username: viper.GetString("bugzilla.username"),
		Password: viper.GetString("bugzilla.password"),
		APIKey:   viper.GetString("bugzilla.api_key"),
		Timeout:  time.Duration(viper.GetInt("bugzilla.timeout")) * time.Second,
		Product:  viper.GetString("bugzilla.product"),
		Logger:   logger,
	})
	if err != nil {
		return nil, "", err
	}
	return c, c.URI(), nil
}

// getSchema returns the shared Bugzilla session, connecting on first call.
// With cache.fields on, the field catalog goes through the on-disk cache.
func getSchema() (*bugzilla.Schema, error) {
	if session != nil {
		return session, nil
	}

	svc, uri, err := newServiceFunc()
	if err != nil {
		return nil, err
	}

	if viper.GetBool("cache.fields") {
		st, err := getStore()
		if err != nil {
			logger.Warn("field cache unavailable", "error", err)
		} else {
			fieldSource = store.NewCachedFieldSource(svc, st, uri, viper.GetDuration("cache.max_age"), logger)
			svc = fieldSource
		}
	}

	serviceURL = uri
	session = bugzilla.NewSchema(svc, bugzilla.WithLogger(logger))
	return session, nil
}

// recordUpdate appends to the update log. A missing or broken store only
// warns; the remote write already happened.
func recordUpdate(ctx context.Context, bugID int, kind string, payload map[string]any) {
	st, err := getStore()
	if err != nil {
		ui.Warning("Update not logged: %v", err)
		return
	}
	rec := &store.UpdateRecord{BugID: bugID, ServiceURL: serviceURL, Kind: kind, Payload: payload}
	if err := st.LogUpdate(ctx, rec); err != nil {
		ui.Warning("Update not logged: %v", err)
	}
}
