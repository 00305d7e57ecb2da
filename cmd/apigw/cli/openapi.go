package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dashbite/apigw/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		serverURL  string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Generate the OpenAPI 3.0 document describing every /api/v1 route, its
authentication, required scope and error responses.`,
		Example: `  apigw openapi                                   # print to stdout
  apigw openapi --server https://api.example.com -o api.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd.OutOrStdout(), serverURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL advertised in the servers list")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}

func runOpenAPI(out io.Writer, serverURL, outputFile string) error {
	doc := openapi.Generate(serverURL, versionString())

	jsonBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, jsonBytes, 0644); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
		fmt.Fprintf(out, "Wrote %s (%d routes)\n", outputFile, len(openapi.Routes))
		return nil
	}
	_, err = fmt.Fprintln(out, string(jsonBytes))
	return err
}
