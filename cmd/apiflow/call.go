package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	errs "apiflow/pkg/errors"
	"apiflow/pkg/ui"
)

var (
	outputFormat string
	streamTo     string
)

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <operation> [params]",
	Short: "Call a service operation",
	Long: `Call an operation and print the parsed response.

Parameters are a JSON or YAML document, given inline or as @file. They are
encoded for the configured protocol: a JSON body for json and rest-json,
form fields for query and ec2, and query parameters for rest-xml.`,
	Example: `  # Describe a DynamoDB table
  apiflow call DescribeTable '{"TableName":"users"}' -s dynamodb --target-prefix DynamoDB_20120810

  # List SQS queues against a local endpoint
  apiflow call ListQueues -s sqs --protocol query --api-version 2012-11-05 --endpoint-url http://localhost:4566`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "output format (json, yaml)")
	callCmd.Flags().StringVar(&streamTo, "stream-to", "", "write a streaming payload to this file")
}

func runCall(cmd *cobra.Command, args []string) error {
	params := map[string]any{}
	if len(args) == 2 {
		var err error
		if params, err = parseParams(args[1]); err != nil {
			return err
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer writeMetrics(c)

	res, err := c.Invoke(cmd.Context(), args[0], params)
	if err != nil {
		var appErr *errs.ApplicationError
		if errors.As(err, &appErr) && appErr.Response != nil {
			printDocument(appErr.Response)
		}
		return err
	}
	if res.Stream != nil {
		defer res.Stream.Close()
		if streamTo != "" {
			if err := saveStream(res.Stream, streamTo); err != nil {
				return err
			}
		}
	}

	ui.PrintInfo("Status", fmt.Sprintf("%d after %d attempt(s)", res.StatusCode, res.Attempts))
	printDocument(res.Parsed)
	return nil
}

func saveStream(r io.Reader, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	ui.PrintInfo("Saved", fmt.Sprintf("%s (%d bytes)", path, n))
	return nil
}

func printDocument(doc map[string]any) {
	var (
		data []byte
		err  error
	)
	if outputFormat == "yaml" {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		ui.PrintError("Failed to format response", err.Error())
		return
	}
	ui.PrintResult(string(data))
}
