package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
)

// getCmd represents the get command.
var getCmd = &cobra.Command{
	Use:   "get <service> <resource>",
	Short: "Get one record by ID",
	Long: `Get a single record by its key.

Example:
  exact-cli get crm Accounts --id 8f3b1c2e-...`,
	Args: cobra.ExactArgs(2),
	Run:  runRecordCommand(dispatch.OpGet),
}

// listCmd represents the list command.
var listCmd = &cobra.Command{
	Use:   "list <service> <resource>",
	Short: "List records, following pagination",
	Long: `List the records of a resource. With --parent-id the records are read
through the parent resource of the endpoint.

Example:
  exact-cli list crm Accounts --filter "City:eq:[Delft,Gouda]" --select ID,Name
  exact-cli list salesorder SalesOrderLines --parent-id 8f3b1c2e-... --limit 50`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		op := dispatch.OpGetAll
		if itemOpts.parentID != "" {
			op = dispatch.OpGetAllViaParentID
		}
		runRecordCommand(op)(cmd, args)
	},
}

// createCmd represents the create command.
var createCmd = &cobra.Command{
	Use:   "create <service> <resource>",
	Short: "Create a record",
	Long: `Create a record from --set field values or a raw JSON body.

Example:
  exact-cli create crm Accounts --set Name=Acme --set Status=C`,
	Args: cobra.ExactArgs(2),
	Run:  runRecordCommand(dispatch.OpPost),
}

// updateCmd represents the update command.
var updateCmd = &cobra.Command{
	Use:   "update <service> <resource>",
	Short: "Update a record",
	Long: `Update the fields of a record.

Example:
  exact-cli update crm Accounts --id 8f3b1c2e-... --set City=Delft`,
	Args: cobra.ExactArgs(2),
	Run:  runRecordCommand(dispatch.OpPut),
}

// deleteCmd represents the delete command.
var deleteCmd = &cobra.Command{
	Use:   "delete <service> <resource>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	Run:   runRecordCommand(dispatch.OpDelete),
}

func init() {
	getCmd.Flags().StringVar(&itemOpts.id, "id", "", "record ID (required)")
	getCmd.MarkFlagRequired("id")
	addQueryFlags(getCmd)

	listCmd.Flags().StringVar(&itemOpts.parentID, "parent-id", "", "read through the parent record with this ID")
	addQueryFlags(listCmd)
	addFilterFlags(listCmd)

	addBodyFlags(createCmd)

	updateCmd.Flags().StringVar(&itemOpts.id, "id", "", "record ID (required)")
	updateCmd.MarkFlagRequired("id")
	addBodyFlags(updateCmd)

	deleteCmd.Flags().StringVar(&itemOpts.id, "id", "", "record ID (required)")
	deleteCmd.MarkFlagRequired("id")
}

func runRecordCommand(op dispatch.Operation) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		item, err := itemOpts.item()
		exitOnError(err, "invalid arguments")

		ctx := context.Background()
		a := newApp()

		results, err := a.run(ctx, dispatch.Context{
			Service:   args[0],
			Resource:  args[1],
			Operation: op,
		}, []dispatch.Item{item})

		slog.Info("Run finished", "operation", op, "records", len(records(results)))
		a.finish(results, err)
	}
}
