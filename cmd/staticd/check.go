package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/benaskins/staticd/internal/config"
	"github.com/benaskins/staticd/internal/serverconf"
)

type checkResult struct {
	Path     string `json:"path"`
	FileDir  string `json:"file_dir,omitempty"`
	Launcher string `json:"launcher,omitempty"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [file-or-dir]",
	Short: "Validate config files",
	Long:  "Parse and validate staticd config files. Checks a specific file, every YAML and TOML file in a directory, or the default config.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

var renderFlag bool

func init() {
	checkCmd.Flags().BoolVar(&renderFlag, "render", false, "print the lighttpd config the server would be started with")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := configPath()
	if len(args) > 0 {
		target = args[0]
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", target, err)
	}

	var files []string
	if info.IsDir() {
		for _, pattern := range []string{"*.yaml", "*.yml", "*.toml"} {
			matches, _ := filepath.Glob(filepath.Join(target, pattern))
			files = append(files, matches...)
		}
		if len(files) == 0 {
			return fmt.Errorf("no config files found in %s", target)
		}
	} else {
		files = []string{target}
	}

	var results []checkResult
	var failed int
	for _, path := range files {
		r := checkFile(path)
		if !r.Valid {
			failed++
		}
		results = append(results, r)
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Printf("OK    %s (%s, %s)\n", r.Path, r.FileDir, r.Launcher)
			} else {
				fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", r.Path, r.Error)
			}
		}
	}

	if renderFlag && len(files) == 1 && failed == 0 {
		cfg, _ := config.Load(files[0])
		fmt.Print(serverconf.RenderLighttpd(serverconf.Options{
			FileDir:  cfg.Server.FileDir,
			Hostname: cfg.Server.Hostname,
			Port:     cfg.Server.Port,
			ErrorLog: cfg.Server.ErrorLog,
		}))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d config files invalid", failed, len(files))
	}
	return nil
}

func checkFile(path string) checkResult {
	cfg, err := config.Load(path)
	if err != nil {
		return checkResult{Path: path, Error: err.Error()}
	}
	if cfg.Server.FileDir == "" {
		return checkResult{Path: path, Error: "server.file_dir is required"}
	}
	info, err := os.Stat(cfg.Server.FileDir)
	if err != nil {
		return checkResult{Path: path, Error: fmt.Sprintf("file_dir: %v", err)}
	}
	if !info.IsDir() {
		return checkResult{Path: path, Error: fmt.Sprintf("file_dir %s is not a directory", cfg.Server.FileDir)}
	}
	return checkResult{Path: path, FileDir: cfg.Server.FileDir, Launcher: cfg.Launcher.Type, Valid: true}
}
