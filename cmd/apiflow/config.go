package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"apiflow/pkg/config"
	"apiflow/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage apiflow configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (APIFLOW_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.apiflow.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging every source.

Secret keys and session tokens are masked.`,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# apiflow configuration file
#
# Environment variables prefixed with APIFLOW_ override these values,
# for example APIFLOW_REGION or APIFLOW_ENDPOINT_URL.

client:
  # Endpoint prefix of the service to call (required)
  service: dynamodb
  region: us-east-1
  # Send requests here instead of the resolved endpoint
  endpoint_url: ""
  # Extra endpoint rules; the built-in rules are used when empty
  endpoints_file: ""
  # json, rest-json, query, ec2 or rest-xml
  protocol: json
  target_prefix: DynamoDB_20120810
  api_version: ""
  timeout: 60s
  # Disable TLS verification with verify_ssl: false, or pin a CA bundle
  ca_bundle: ""
  user_agent: ""

retry:
  enabled: true
  # Attempts per call, including the first
  max_attempts: 5
  base_delay: 100ms
  max_delay: 20s
  multiplier: 2.0
  jitter_factor: 0.1
  retryable_status_codes: [429, 500, 502, 503, 504]
  # Hard limit regardless of policy decisions, 0 to disable
  attempt_ceiling: 0

rate_limit:
  enabled: false
  requests_per_second: 10
  burst: 5

credentials:
  # Stored profile, see 'apiflow auth login'
  profile: default
  anonymous: false

waiters:
  model_path: ""

telemetry:
  metrics: true
  tracing: false

logging:
  # debug, info, warn, error
  level: info
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".apiflow.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set the service, region and protocol you want to call")
	fmt.Println("2. Run 'apiflow auth login' to store credentials")
	fmt.Println("3. Run 'apiflow config validate' to check the configuration")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, commandFlags())
	if err != nil {
		return err
	}

	display := *cfg
	display.Credentials.SecretAccessKey = mask(display.Credentials.SecretAccessKey)
	display.Credentials.SessionToken = mask(display.Credentials.SessionToken)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	ui.PrintResult(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, commandFlags())
	if err != nil {
		return err
	}
	if cfg.Client.Service == "" {
		ui.PrintWarning("No service configured", "set client.service or pass --service")
	}
	ui.PrintSuccess("Configuration is valid")
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}
