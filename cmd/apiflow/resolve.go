package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"apiflow/pkg/endpoint"
	"apiflow/pkg/ui"
)

var listServices bool

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the endpoint a call would use",
	Long: `Resolve the endpoint for the configured service and region and print
where requests would go, how they would be signed, and how TLS would be
verified. No request is sent.`,
	Example: `  apiflow resolve -s iam
  apiflow resolve -s s3 -r eu-central-1
  apiflow resolve --list`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().BoolVar(&listServices, "list", false, "list services with their own endpoint rules")
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var resolver *endpoint.RuleResolver
	if cfg.Client.EndpointsFile != "" {
		if resolver, err = endpoint.LoadRules(cfg.Client.EndpointsFile); err != nil {
			return err
		}
	} else {
		resolver = endpoint.DefaultResolver()
	}

	if listServices {
		for _, svc := range resolver.Services() {
			ui.PrintResult(svc)
		}
		return nil
	}

	creator := endpoint.NewCreator(resolver, cfg.Client.Region, nil)
	creator.Insecure = cfg.Client.Insecure
	creator.Verify = cfg.Client.VerifySSL
	creator.CABundle = cfg.Client.CABundle
	creator.Timeout = cfg.Client.Timeout

	ep, err := creator.Resolve(cfg.Client.Service, cfg.Client.Region, cfg.Client.EndpointURL)
	if err != nil {
		return err
	}

	ui.PrintHighlight("Endpoint")
	ui.PrintInfo("URL", ep.URL)
	ui.PrintInfo("Host", ep.Host)
	ui.PrintInfo("Signing name", ep.SigningName)
	ui.PrintInfo("Signing region", ep.SigningRegion)
	ui.PrintInfo("Verify TLS", fmt.Sprint(ep.Verify))
	if ep.CABundle != "" {
		ui.PrintInfo("CA bundle", ep.CABundle)
	}
	ui.PrintInfo("Timeout", ep.Timeout.String())
	if quiet {
		ui.PrintResult(ep.URL)
	}
	return nil
}
