package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
)

var (
	itemsFile string
	operation string
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run <service> <resource>",
	Short: "Run an operation over a file of items",
	Long: `Run one operation for every item of a YAML or JSON file, in order.

Each item carries the parameters of one call (id, parentId, limit,
selectedFields, filters, data, manualBody, reconciliation). Without
--continue-on-fail the first failing item stops the run.

Example:
  exact-cli run crm Accounts --operation post --items accounts.yaml
  exact-cli run financial FFMatch --operation post --items matches.json --continue-on-fail`,
	Args: cobra.ExactArgs(2),
	Run:  runItems,
}

func init() {
	runCmd.Flags().StringVarP(&itemsFile, "items", "i", "", "items file, YAML or JSON (required)")
	runCmd.Flags().StringVarP(&operation, "operation", "o", "getAll", "get, getAll, getAllViaParentId, post, put or delete")
	runCmd.MarkFlagRequired("items")
}

func runItems(cmd *cobra.Command, args []string) {
	op, err := dispatch.ParseOperation(operation)
	exitOnError(err, "invalid arguments")

	data, err := os.ReadFile(itemsFile)
	exitOnError(err, "failed to read items file")

	items, err := dispatch.ParseItems(data)
	exitOnError(err, "failed to parse items file")

	slog.Info("Loaded items", "file", itemsFile, "count", len(items))

	ctx := context.Background()
	a := newApp()

	results, err := a.run(ctx, dispatch.Context{
		Service:   args[0],
		Resource:  args[1],
		Operation: op,
	}, items)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	slog.Info("Run finished", "items", len(items), "completed", len(results), "failed", failed)
	a.finish(results, err)
}
