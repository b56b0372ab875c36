// Command cligateway-cli is a read-only probe and inspection tool for an
// already-running gateway's catalog and request log. It never writes to
// the catalog tables — provisioning those is left to whatever tool the
// operator already uses to manage the SQLite/Postgres database directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/cligateway/hub/internal/catalog"
	"github.com/cligateway/hub/internal/requestlog"
	"github.com/cligateway/hub/internal/version"
)

var catalogDSN string
var catalogDialect string

func main() {
	root := &cobra.Command{
		Use:   "cligateway-cli",
		Short: "Inspect a cligateway catalog and request log",
	}
	root.PersistentFlags().StringVar(&catalogDSN, "dsn", "", "catalog/log DSN (default: cligateway-catalog.db for the catalog, cligateway-requests.db for the request log)")
	root.PersistentFlags().StringVar(&catalogDialect, "dialect", "sqlite", "sqlite or postgres")

	root.AddCommand(newCatalogCmd(), newPriceCmd(), newLogsCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openCatalog() (*catalog.Reader, error) {
	if catalogDialect == "postgres" {
		return catalog.NewPostgresReader(catalogDSN)
	}
	return catalog.NewSQLiteReader(catalogDSN)
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Inspect the provider catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Probe every enabled provider's base URL and report reachability",
		RunE:  runCatalogDoctor,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list [cli-key]",
		Short: "List providers, optionally filtered by cli_key",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalogList,
	})
	return cmd
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	reader, err := openCatalog()
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer reader.Close()

	cliKeys := []string{"claude", "codex", "gemini"}
	if len(args) == 1 {
		cliKeys = []string{args[0]}
	}
	for _, cliKey := range cliKeys {
		providers := reader.ProvidersFor(cliKey)
		fmt.Printf("%s: %d provider(s)\n", cliKey, len(providers))
		for _, p := range providers {
			fmt.Printf("  %-20s mode=%-14s base_urls=%d\n", p.ID, p.AuthMode, len(p.BaseURLs))
		}
	}
	return nil
}

// runCatalogDoctor probes each enabled provider's base URL(s). For bearer
// and oauth2_cc providers fronting an OpenAI-compatible /v1 surface it
// lists models as the liveness check; everything else gets a plain HTTP
// HEAD. Bedrock providers are skipped — SigV4-signed liveness checks are
// out of scope for a read-only probe tool.
func runCatalogDoctor(cmd *cobra.Command, args []string) error {
	reader, err := openCatalog()
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	exitCode := 0
	for _, cliKey := range []string{"claude", "codex", "gemini"} {
		for _, p := range reader.ProvidersFor(cliKey) {
			for _, baseURL := range p.BaseURLs {
				status := probeProvider(ctx, p, baseURL)
				fmt.Printf("[%s] %-20s %-40s %s\n", cliKey, p.ID, baseURL, status)
				if strings.HasPrefix(status, "FAIL") {
					exitCode = 1
				}
			}
		}
	}
	if exitCode != 0 {
		return fmt.Errorf("one or more providers failed their probe")
	}
	return nil
}

func probeProvider(ctx context.Context, p catalog.Provider, baseURL string) string {
	if p.AuthMode == catalog.AuthBedrockSigV4 {
		return "SKIP (bedrock_sigv4 requires signed requests)"
	}

	client := openai.NewClient(option.WithAPIKey(p.APIKey), option.WithBaseURL(baseURL))
	if _, err := client.Models.List(ctx); err == nil {
		return "OK (models.list)"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return "FAIL " + err.Error()
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "FAIL " + err.Error()
	}
	resp.Body.Close()
	return fmt.Sprintf("OK (HEAD %d)", resp.StatusCode)
}

func newPriceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "price", Short: "Inspect model pricing"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <cli-key> <model>",
		Short: "Print the stored price record for a (cli_key, model) pair",
		Args:  cobra.ExactArgs(2),
		RunE:  runPriceList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Check that a price_json file parses as a JSON object, without writing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runPriceImport,
	})
	return cmd
}

func runPriceList(cmd *cobra.Command, args []string) error {
	reader, err := openCatalog()
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer reader.Close()

	priceJSON, ok := reader.Price(args[0], args[1])
	if !ok {
		return fmt.Errorf("no price record for %s/%s", args[0], args[1])
	}
	fmt.Println(priceJSON)
	return nil
}

// runPriceImport only validates: this CLI never writes to the catalog, so
// "import" here means "tell me whether this file would parse", matching
// the import path an operator's own provisioning tool would take before
// writing it to model_prices directly.
func runPriceImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read price file: %w", err)
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("invalid price JSON: %w", err)
	}
	fmt.Printf("valid price_json: %d top-level field(s), not written (read-only tool)\n", len(parsed))
	return nil
}

func newLogsCmd() *cobra.Command {
	var limit int
	var cliKey string
	var status string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent request log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogsTail(cmd, limit, cliKey, status)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to print")
	cmd.Flags().StringVar(&cliKey, "cli-key", "", "filter by cli_key")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	logs := &cobra.Command{Use: "logs", Short: "Inspect the request log"}
	logs.AddCommand(cmd)
	return logs
}

func runLogsTail(cmd *cobra.Command, limit int, cliKey, status string) error {
	var reader *requestlog.SQLWriter
	var err error
	if catalogDialect == "postgres" {
		reader, err = requestlog.NewPostgresWriter(catalogDSN)
	} else {
		reader, err = requestlog.NewSQLiteWriter(catalogDSN)
	}
	if err != nil {
		return fmt.Errorf("open request log: %w", err)
	}
	defer reader.Close()

	result, err := reader.List(cmd.Context(), requestlog.Query{Limit: limit, CLIKey: cliKey, Status: status})
	if err != nil {
		return fmt.Errorf("list request log: %w", err)
	}
	for _, e := range result.Data {
		age := humanize.Time(time.UnixMilli(e.CreatedAtMs))
		fmt.Printf("%-20s %-8s %-8s %-30s status=%-8s provider=%-20s %s\n", e.TraceID, e.CLIKey, e.Method, e.RequestedModel, e.Status, e.FinalProviderID, age)
	}
	fmt.Printf("(%d of %d)\n", len(result.Data), result.Total)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}
