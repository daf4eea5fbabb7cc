package main

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage apkmerge configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/apkmerge/config.yaml (if set)
  2. ~/.config/apkmerge/config.yaml

Environment variables override config file settings using the APKMERGE_ prefix:
  APKMERGE_FORMAT=json
  APKMERGE_MERGE_COMPRESS=true
  APKMERGE_DEVICE_SERIAL=emulator-5554`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration from all sources as YAML.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the effective configuration.
func runConfigShow(_ *cobra.Command, _ []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if cfgFile != "" {
		path = cfgFile
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("# Config file: %s\n", path)
	} else {
		fmt.Println("# Config file: (using defaults, no file found)")
	}

	data, err := yaml.Marshal(configView(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	fmt.Print(string(data))

	if overrides := envOverrides(os.Environ()); len(overrides) > 0 {
		fmt.Println("\n# Environment overrides:")
		for _, o := range overrides {
			fmt.Printf("#   %s\n", o)
		}
	}
	return nil
}

// configView mirrors the config file layout so show output can be
// pasted back into a config file.
func configView(c *config.Config) map[string]any {
	return map[string]any{
		"output_pattern": c.OutputPattern,
		"format":         c.Format,
		"merge": map[string]any{
			"compress": c.Merge.Compress,
			"atomic":   c.Merge.Atomic,
		},
		"history": map[string]any{
			"enabled":        c.History.Enabled,
			"path":           c.History.Path,
			"retention_days": c.History.RetentionDays,
		},
		"device": map[string]any{
			"adb_path": c.Device.ADBPath,
			"serial":   c.Device.Serial,
			"timeout":  c.Device.Timeout.String(),
		},
		"extract": map[string]any{
			"vdex_extractor": c.Extract.VdexExtractor,
			"cdex_extractor": c.Extract.CdexExtractor,
		},
		"logging": map[string]any{
			"level": c.Logging.Level,
			"path":  c.Logging.Path,
			"rotation": map[string]any{
				"max_size":    c.Logging.Rotation.MaxSize,
				"max_age":     c.Logging.Rotation.MaxAge,
				"max_backups": c.Logging.Rotation.MaxBackups,
				"daily":       c.Logging.Rotation.Daily,
			},
			"components": c.Logging.Components,
		},
	}
}

// envOverrides returns the APKMERGE_ variables in env, sorted.
func envOverrides(env []string) []string {
	var overrides []string
	for _, kv := range env {
		if strings.HasPrefix(kv, config.EnvPrefix+"_") {
			overrides = append(overrides, kv)
		}
	}
	sort.Strings(overrides)
	return overrides
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(_ *cobra.Command, _ []string) error {
	configPath, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(_ *cobra.Command, _ []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'apkmerge config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(_ *cobra.Command, _ []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	fmt.Println(configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
