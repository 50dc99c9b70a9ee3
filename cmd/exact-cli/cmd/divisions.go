package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// divisionsCmd represents the divisions command.
var divisionsCmd = &cobra.Command{
	Use:   "divisions",
	Short: "List the divisions available to the user",
	Run:   runDivisions,
}

func runDivisions(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := newApp()
	defer a.close()

	current, err := a.client.CurrentDivision(ctx)
	exitOnError(err, "failed to get current division")

	divisions, err := a.client.Divisions(ctx, current)
	exitOnError(err, "failed to list divisions")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tDESCRIPTION\tCUSTOMER\t")
	for _, d := range divisions {
		marker := ""
		if d.Code == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Code, d.Description, d.CustomerName, marker)
	}
	w.Flush()
}
