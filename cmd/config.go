package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bz"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage bz configuration.

Running bare 'bz config' is the same as 'bz config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# bz configuration
# See: bz config show (for effective values and sources)

# State/data directory (default: ~/.config/bz)
# state_dir: {{ .StateDir }}

# SQLite database path for the field cache and update log (default: ~/.config/bz/bz.db)
# db_path: {{ .DBPath }}

# Bugzilla server
bugzilla:
  # Base URL; /xmlrpc.cgi is appended (e.g. https://bugzilla.example.com)
  url: "{{ .URL }}"

  # Login credentials. api_key, when set, is used instead of username/password.
  username: "{{ .Username }}"
  password: ""
  api_key: ""

  # Request timeout in seconds (default: 120)
  timeout: {{ .Timeout }}

  # Product added to searches that do not name one
  product: "{{ .Product }}"

# Field catalog cache
cache:
  # Keep the server's field list on disk between runs (default: true)
  fields: {{ .CacheFields }}

  # Refetch the field list after this long (default: 24h)
  max_age: "{{ .CacheMaxAge }}"

# Logging (stderr)
log:
  # debug, info, warn, error (default: warn; --verbose forces debug)
  level: "{{ .LogLevel }}"

  # text or json (default: text)
  format: "{{ .LogFormat }}"
`

type configTemplateData struct {
	StateDir    string
	DBPath      string
	URL         string
	Username    string
	Timeout     int
	Product     string
	CacheFields bool
	CacheMaxAge string
	LogLevel    string
	LogFormat   string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:    viper.GetString("state_dir"),
		DBPath:      viper.GetString("db_path"),
		URL:         viper.GetString("bugzilla.url"),
		Username:    viper.GetString("bugzilla.username"),
		Timeout:     viper.GetInt("bugzilla.timeout"),
		Product:     viper.GetString("bugzilla.product"),
		CacheFields: viper.GetBool("cache.fields"),
		CacheMaxAge: viper.GetString("cache.max_age"),
		LogLevel:    viper.GetString("log.level"),
		LogFormat:   viper.GetString("log.format"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may end up holding a password.
	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "BZ_STATE_DIR"},
	{Key: "db_path", EnvVar: "BZ_DB_PATH"},
	{Key: "bugzilla.url", EnvVar: "BZ_BUGZILLA_URL"},
	{Key: "bugzilla.username", EnvVar: "BZ_BUGZILLA_USERNAME"},
	{Key: "bugzilla.password", EnvVar: "BZ_BUGZILLA_PASSWORD", Secret: true},
	{Key: "bugzilla.api_key", EnvVar: "BZ_BUGZILLA_API_KEY", Secret: true},
	{Key: "bugzilla.timeout", EnvVar: "BZ_BUGZILLA_TIMEOUT"},
	{Key: "bugzilla.product", EnvVar: "BZ_BUGZILLA_PRODUCT"},
	{Key: "cache.fields", EnvVar: "BZ_CACHE_FIELDS"},
	{Key: "cache.max_age", EnvVar: "BZ_CACHE_MAX_AGE"},
	{Key: "log.level", EnvVar: "BZ_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "BZ_LOG_FORMAT"},
}

// displayValue masks secrets that are set.
func displayValue(k configKeyInfo) any {
	val := viper.Get(k.Key)
	if k.Secret && viper.GetString(k.Key) != "" {
		return "********"
	}
	return val
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-20s %v  %s\n", k.Key, displayValue(k), source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'bz config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
