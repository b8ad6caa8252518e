package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage pricehist configuration",
	Long: `am - Manage pricehist configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/pricehist/` + am.ConfigFileName + `)
3. User config (~/.pricehist/` + am.ConfigFileName + `)
4. Project config (./` + am.ConfigFileName + `, searched up directories)
5. Environment variables (PRICEHIST_* prefix, e.g. PRICEHIST_INGEST_WORKERS)

--config FILE replaces steps 2-4 with a single file.

Examples:
  pricehist am show                    # Show current configuration
  pricehist am show --format json      # Show configuration in JSON format
  pricehist am validate                # Validate current configuration
  pricehist am init                    # Write defaults to ./` + am.ConfigFileName + `
  pricehist am where                   # Show which files were loaded`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate the merged configuration and report keys in loaded files that pricehist does not know",
	RunE:  runAmValidate,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE:  runAmInit,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var (
	configFormat string
	initPath     string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().StringVar(&initPath, "path", am.ConfigFileName, "File to write")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file (previous versions are kept as backups)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# pricehist configuration\n%s", data)

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(out, "# pricehist configuration\n%s", data)

	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	out := cmd.OutOrStdout()
	var unknownTotal int
	for _, path := range am.Sources() {
		unknown, err := am.CheckUnknownKeys(path)
		if err != nil {
			return err
		}
		for _, key := range unknown {
			fmt.Fprintf(out, "⚠ %s: unknown key %q\n", path, key)
		}
		unknownTotal += len(unknown)
	}
	if unknownTotal > 0 {
		return errors.WithHint(
			errors.NewInvalidRequestError("%d unknown configuration key(s)", unknownTotal),
			"unknown keys are ignored and their defaults apply; check for typos")
	}

	fmt.Fprintln(out, "✓ Configuration is valid")
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initPath); err == nil && !initForce {
		return errors.WithHint(
			errors.NewInvalidRequestError("%s already exists", initPath),
			"pass --force to overwrite it")
	}
	if err := am.WriteConfig(initPath, am.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", initPath)
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	out := cmd.OutOrStdout()
	sources := am.Sources()
	if len(sources) == 0 {
		fmt.Fprintln(out, "No configuration files found; using defaults and PRICEHIST_* environment variables")
		return nil
	}
	fmt.Fprintln(out, "Configuration files (later overrides earlier):")
	for i, path := range sources {
		fmt.Fprintf(out, "  %d. %s\n", i+1, path)
	}
	return nil
}
