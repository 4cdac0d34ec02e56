// Package brand provides centralized naming and default locations.
//
// The identity is loaded from brand.json at compile time via go:embed so
// scripts and packaging read the same values as the binary.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	ConfigFileName   string `json:"configFileName"`
	DefaultStateDir  string `json:"defaultStateDir"`
	DefaultListen    string `json:"defaultListen"`
	DaemonPort       int    `json:"daemonPort"`
	BinaryName       string `json:"binaryName"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	ConfigFileName = b.ConfigFileName
	DefaultStateDir = b.DefaultStateDir
	DefaultListen = b.DefaultListen
	DaemonPort = b.DaemonPort
	BinaryName = b.BinaryName
}

// Exported variables for convenience
var (
	Name             string
	LowerName        string
	Description      string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	ConfigFileName   string
	DefaultStateDir  string
	DefaultListen    string
	DaemonPort       int
	BinaryName       string

	// Version is set at build time via -ldflags
	Version   = "dev"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

// UserAgent returns a User-Agent string for HTTP requests
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: FOLDWATCH_CONFIG_DIR > FOLDWATCH_PREFIX/etc > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "etc")
	}
	return DefaultConfigDir
}

// DefaultConfigPath returns the full path of the default config file.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// GetStateDir returns the directory for persistent state such as the audit
// database. Priority: FOLDWATCH_STATE_DIR > FOLDWATCH_PREFIX/var/lib > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "var", "lib", LowerName)
	}
	return DefaultStateDir
}

// DefaultAuditPath returns the default location of the audit database.
func DefaultAuditPath() string {
	return filepath.Join(GetStateDir(), "audit.db")
}
