package admin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultInfoFile is where cjdns tooling keeps the admin credentials.
const DefaultInfoFile = "~/.cjdnsadmin"

// LoadInfoFile reads a .cjdnsadmin JSON document ({addr, port, password}).
// A leading ~ in path is expanded to the user's home directory.
func LoadInfoFile(path string) (Config, error) {
	if path == "" {
		path = DefaultInfoFile
	}
	path, err := expandHome(path)
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("addr", "127.0.0.1")
	v.SetDefault("port", 11234)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read admin info file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse admin info file %s: %w", path, err)
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
