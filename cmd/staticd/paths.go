package main

import (
	"os"
	"path/filepath"

	"github.com/benaskins/staticd/internal/config"
)

// configPath returns the --config flag or the default config location.
func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	if p := config.DefaultPath(); p != "" {
		return p
	}
	return "config.yaml"
}

func defaultSocketPath() string {
	if socketFlag != "" {
		return socketFlag
	}
	if dir := config.Dir(); dir != "" {
		return filepath.Join(dir, "staticd.sock")
	}
	return filepath.Join(os.TempDir(), "staticd.sock")
}
