package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"apiflow/pkg/client"
	"apiflow/pkg/config"
	"apiflow/pkg/logger"
	"apiflow/pkg/ui"
)

var (
	// Version information
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile   string
	logLevel     string
	noColor      bool
	quiet        bool
	region       string
	endpointURL  string
	service      string
	protocol     string
	profile      string
	targetPrefix string
	apiVersion   string
	waitersFile  string
	maxAttempts  int
	noVerifySSL  bool
	metricsFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apiflow",
	Short: "Call web service APIs with retries, endpoint resolution and waiters",
	Long: `apiflow sends requests to AWS-style web service APIs.

Every call goes through the same pipeline:
  - Endpoint resolution from region rules or an explicit URL
  - SigV4 signing with stored or configured credentials
  - Retries decided by a registry of retry policies
  - Response parsing for json, rest-json, query, ec2 and rest-xml

Waiters poll an operation until a resource reaches a desired state.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}
		ui.SetNoColor(noColor)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		ui.PrintError("Error", err.Error())
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default is ./.apiflow.yaml or $HOME/.config/apiflow/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "print results and errors only")

	flags.StringVarP(&service, "service", "s", "", "service endpoint prefix, e.g. dynamodb")
	flags.StringVarP(&region, "region", "r", "", "region to resolve the endpoint for")
	flags.StringVar(&endpointURL, "endpoint-url", "", "send requests to this URL instead of the resolved endpoint")
	flags.StringVar(&protocol, "protocol", "", "wire protocol (json, rest-json, query, ec2, rest-xml)")
	flags.StringVar(&profile, "profile", "", "stored credentials profile")
	flags.StringVar(&targetPrefix, "target-prefix", "", "X-Amz-Target prefix for json protocol calls")
	flags.StringVar(&apiVersion, "api-version", "", "API version for query and ec2 protocol calls")
	flags.StringVar(&waitersFile, "waiters", "", "waiter model file")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "maximum attempts per call, including the first")
	flags.BoolVar(&noVerifySSL, "no-verify-ssl", false, "skip TLS certificate verification")
	flags.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	rootCmd.SetVersionTemplate(`apiflow {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// commandFlags collects the global flags the user set, keyed the way
// config.MergeCommandLineFlags expects.
func commandFlags() map[string]interface{} {
	flags := map[string]interface{}{
		"region":        region,
		"endpoint-url":  endpointURL,
		"service":       service,
		"protocol":      protocol,
		"profile":       profile,
		"target-prefix": targetPrefix,
		"api-version":   apiVersion,
		"waiters":       waitersFile,
		"max-attempts":  maxAttempts,
		"log-level":     logLevel,
	}
	if rootCmd.PersistentFlags().Changed("no-verify-ssl") {
		flags["verify-ssl"] = !noVerifySSL
	}
	return flags
}

// loadConfig loads configuration and initializes the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile, commandFlags())
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, nil
}

func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := client.New(cfg)
	if err != nil {
		return nil, err
	}
	logger.WithField("version", version).DebugWithFields("client created", map[string]interface{}{
		"service":  cfg.Client.Service,
		"endpoint": c.Endpoint().URL,
	})
	return c, nil
}

// writeMetrics saves the client's metrics when --metrics-file is set.
func writeMetrics(c *client.Client) {
	if metricsFile == "" || c.Metrics() == nil {
		return
	}
	if err := c.Metrics().WriteTextfile(metricsFile); err != nil {
		ui.PrintWarning("Failed to write metrics", err.Error())
	}
}

// parseParams decodes a YAML or JSON parameter document. An argument
// starting with @ names a file.
func parseParams(arg string) (map[string]any, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		if data, err = os.ReadFile(arg[1:]); err != nil {
			return nil, fmt.Errorf("read params: %w", err)
		}
	}
	params := map[string]any{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse params: %w", err)
	}
	return params, nil
}
