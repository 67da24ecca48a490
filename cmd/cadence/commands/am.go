package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage cadence configuration",
	Long: `am — Manage cadence configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/cadence/am.toml)
3. User config (~/.cadence/am.toml)
4. Project config (./am.toml, searched upwards)
5. Environment variables (CADENCE_* prefix)

Examples:
  cadence am show                 # Effective settings with their source
  cadence am show --format toml   # Effective configuration as TOML
  cadence am init                 # Write a default ./am.toml
  cadence am validate             # Validate configuration and flag unknown keys`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default am.toml",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate current configuration",
	Long: `Validate the effective configuration. When a config file is given, or a
project am.toml is found, its keys are also checked against the known
settings so typos are reported instead of silently ignored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAmValidate,
}

var (
	configFormat string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "table", "Output format: table, toml, json")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file (kept as .back1)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	switch configFormat {
	case "table":
		data := pterm.TableData{{"Key", "Value", "Source"}}
		for _, s := range am.Introspect() {
			source := string(s.Source)
			if s.SourcePath != "" && s.Source != am.SourceDefault {
				source += " (" + s.SourcePath + ")"
			}
			data = append(data, []string{s.Key, fmt.Sprintf("%v", s.Value), source})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	case "json", "toml":
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		// Secrets are never printed
		redacted := *cfg
		redacted.Delivery.APIKey = mask(redacted.Delivery.APIKey)
		redacted.Insight.APIKey = mask(redacted.Insight.APIKey)

		var data []byte
		if configFormat == "json" {
			data, err = json.MarshalIndent(redacted, "", "  ")
		} else {
			data, err = toml.Marshal(redacted)
		}
		if err != nil {
			return errors.Wrap(err, "failed to marshal config")
		}
		fmt.Println(string(data))
		return nil

	default:
		return errors.Newf("unsupported format: %s (supported: table, toml, json)", configFormat)
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := am.WriteDefaultConfig(path, initForce); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote default configuration to %s", path)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	var (
		cfg  *am.Config
		err  error
		path = am.ProjectConfigPath()
	)
	if len(args) == 1 {
		path = args[0]
		cfg, err = am.LoadFromFile(path)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	if path != "" {
		unknown, err := am.CheckUnknownKeys(path)
		if err != nil {
			return err
		}
		if len(unknown) > 0 {
			for _, key := range unknown {
				pterm.Warning.Printfln("Unknown key %s in %s", key, path)
			}
			return errors.Newf("%d unknown key(s) in %s", len(unknown), path)
		}
	}

	pterm.Success.Println("Configuration is valid")
	return nil
}
