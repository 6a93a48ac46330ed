package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strings"

	"github.com/habedi/dealgate/client"
	"github.com/spf13/cobra"
)

// callCmd performs one authenticated request against the dealer API through
// the resilient executor. It is mainly a connectivity and credential check.
func callCmd() *cobra.Command {
	var baseURL string
	var queryParams []string
	var bodyFile string
	var outputFile string

	cmd := &cobra.Command{
		Use:   "call METHOD PATH",
		Short: "Perform an authenticated request against the dealer API",
		Long: "Perform one authenticated HTTP request through the shared request path,\n" +
			"including the automatic refresh-and-retry on an expired token.",
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			method := strings.ToUpper(args[0])
			path := args[1]

			creds, err := loadConfig(cmd)
			if err != nil {
				cmd.PrintErrln("Error:", err)
				return
			}

			query := url.Values{}
			for _, param := range queryParams {
				key, value, found := strings.Cut(param, "=")
				if !found {
					cmd.PrintErrln("Error: Query parameters must be KEY=VALUE, got:", param)
					return
				}
				query.Add(key, value)
			}

			var body any
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					cmd.PrintErrln("Error: Failed to read the request body file:", err)
					return
				}
				body = json.RawMessage(data)
			}

			manager := buildManager(creds, buildFlow(creds))
			executor := buildExecutor(baseURL, manager)

			outcome := executor.Execute(context.Background(), method, path, body, query)
			printOutcome(cmd, outcome, outputFile)
		},
	}

	cmd.Flags().StringVarP(&baseURL, "base-url", "u", "https://api.deere.com", "API base URL")
	cmd.Flags().StringArrayVarP(&queryParams, "query", "q", nil, "Query parameter as KEY=VALUE (repeatable)")
	cmd.Flags().StringVarP(&bodyFile, "body", "d", "", "Path to a JSON file to send as the request body")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the response body to a file instead of stdout")

	return cmd
}

// printOutcome reports the classified result of the call to the user.
func printOutcome(cmd *cobra.Command, outcome client.Outcome, outputFile string) {
	switch outcome.Kind {
	case client.KindSuccess:
		cmd.Println("Status:", outcome.Status)
		if len(outcome.Body) == 0 {
			return
		}
		if outputFile != "" {
			if err := os.WriteFile(outputFile, outcome.Body, 0o600); err != nil {
				cmd.PrintErrln("Error: Failed to write the response to", outputFile)
				return
			}
			cmd.Println("Response written to", outputFile)
			return
		}
		cmd.Println(prettyJSON(outcome.Body))
	case client.KindAuthFailure:
		cmd.PrintErrln("Error: Authentication failed. Please run 'dealgate login' again.")
		cmd.PrintErrln("Cause:", outcome.Cause)
	case client.KindTransportFailure:
		cmd.PrintErrln("Error: Network problem while contacting the API. Please try again.")
		cmd.PrintErrln("Cause:", outcome.Cause)
	case client.KindServerError:
		if outcome.Status >= 500 {
			cmd.PrintErrln("Error: The service is temporarily unavailable (status", outcome.Status, ").")
		} else {
			cmd.PrintErrln("Error: The API rejected the request (status", outcome.Status, ").")
		}
		if len(outcome.Body) > 0 {
			cmd.PrintErrln(string(outcome.Body))
		}
	}
}

// prettyJSON indents a JSON body for terminal output, falling back to the
// raw text when it is not JSON.
func prettyJSON(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}
