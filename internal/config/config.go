package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/backuper-dev/orchestrator/internal/types"
	"github.com/backuper-dev/orchestrator/pkg/utils"
)

// DefaultLocalBackupsDir è la radice usata quando nessuna directory
// locale è configurata esplicitamente.
const DefaultLocalBackupsDir = "/backupsLocales"

// Config contiene tutta la configurazione del servizio
type Config struct {
	// General settings
	DebugLevel types.LogLevel
	UseColor   bool

	// HTTP server
	ListenAddr string

	// Persistence
	DatabasePath string

	// rclone settings
	RcloneConfig string
	DriveRemote  string

	// Shared Drive account bootstrap credentials
	DriveClientID     string
	DriveClientSecret string
	DriveToken        string

	// Local directories allow list (raw "Label|/path" entries) and the
	// default backups root
	LocalDirectories []string
	LocalBackupsDir  string

	// Admin authentication
	AdminUser     string
	AdminPass     string
	AdminPassHash string

	// Optional age identity used to encrypt persisted config snapshots
	SnapshotAgeKey string

	// raw configuration map
	raw map[string]string
}

// LoadConfig legge il file di configurazione backuper.env
func LoadConfig(configPath string) (*Config, error) {
	if !utils.FileExists(configPath) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{
		raw: make(map[string]string),
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		// Skip comments and empty lines
		if utils.IsComment(line) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		cfg.raw[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	return cfg, nil
}

// parse interpreta i valori raw della configurazione
func (c *Config) parse() error {
	c.DebugLevel = c.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo)

	// USE_COLOR vs DISABLE_COLORS (invertito)
	if disableColors, ok := c.raw["DISABLE_COLORS"]; ok {
		c.UseColor = !utils.ParseBool(disableColors)
	} else {
		c.UseColor = c.getBool("USE_COLOR", true)
	}

	c.ListenAddr = c.getString("LISTEN_ADDR", ":8080")
	c.DatabasePath = c.getStringWithFallback([]string{"DATABASE_PATH", "DB_PATH"}, "backuper.db")

	c.RcloneConfig = c.getStringWithFallback([]string{"RCLONE_CONFIG", "RCLONE_CONFIG_PATH"}, "")
	c.DriveRemote = c.getString("RCLONE_REMOTE", "gdrive")

	c.DriveClientID = c.getString("RCLONE_DRIVE_CLIENT_ID", "")
	c.DriveClientSecret = c.getString("RCLONE_DRIVE_CLIENT_SECRET", "")
	c.DriveToken = c.getString("RCLONE_DRIVE_TOKEN", "")

	c.LocalDirectories = c.getDirectoryList("LOCAL_DIRECTORIES", "RCLONE_LOCAL_DIRECTORIES")
	c.LocalBackupsDir = c.getStringWithFallback(
		[]string{"LOCAL_BACKUPS_DIR", "BACKUPER_LOCAL_BACKUPS_DIR"},
		DefaultLocalBackupsDir,
	)

	c.AdminUser = c.getString("APP_ADMIN_USER", "admin")
	c.AdminPass = c.getString("APP_ADMIN_PASS", "")
	c.AdminPassHash = c.getString("APP_ADMIN_PASS_HASH", "")

	c.SnapshotAgeKey = c.getString("SNAPSHOT_AGE_KEY", "")

	if c.AdminPass == "" && c.AdminPassHash == "" {
		return fmt.Errorf("either APP_ADMIN_PASS or APP_ADMIN_PASS_HASH must be set")
	}

	return nil
}

// Helper methods per ottenere valori tipizzati

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok {
		return expandEnvVars(val)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	if val, ok := c.raw[key]; ok {
		// Try numeric first
		if intVal, err := strconv.Atoi(val); err == nil {
			return types.LogLevel(intVal)
		}
		switch strings.ToLower(val) {
		case "debug":
			return types.LogLevelDebug
		case "info", "standard":
			return types.LogLevelInfo
		case "warning":
			return types.LogLevelWarning
		case "error":
			return types.LogLevelError
		}
	}
	return defaultValue
}

// getDirectoryList legge una lista di directory etichettate ("Label|/path")
// separate da virgola, punto e virgola o newline. Il separatore ':' non viene
// usato perché le etichette contengono path assoluti.
func (c *Config) getDirectoryList(keys ...string) []string {
	var val string
	var found bool
	for _, key := range keys {
		if v, ok := c.raw[key]; ok && strings.TrimSpace(v) != "" {
			val = v
			found = true
			break
		}
	}
	if !found {
		// Fall back to the process environment, come il deploy originale
		for _, key := range keys {
			if v := os.Getenv(key); strings.TrimSpace(v) != "" {
				val = v
				found = true
				break
			}
		}
	}
	if !found {
		return []string{}
	}

	parts := strings.FieldsFunc(val, func(r rune) bool {
		switch r {
		case ',', ';', '\n':
			return true
		default:
			return false
		}
	})

	var result []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, utils.StripQuotes(trimmed))
		}
	}
	return result
}

func (c *Config) getStringWithFallback(keys []string, defaultValue string) string {
	for _, key := range keys {
		if val, ok := c.raw[key]; ok && val != "" {
			return expandEnvVars(val)
		}
	}
	return defaultValue
}

// expandEnvVars expands ${VAR} and $VAR style variables
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

// Get restituisce un valore raw dalla configurazione
func (c *Config) Get(key string) (string, bool) {
	val, ok := c.raw[key]
	return val, ok
}

// Set imposta un valore nella configurazione
func (c *Config) Set(key, value string) {
	if c.raw == nil {
		c.raw = make(map[string]string)
	}
	c.raw[key] = value
}
