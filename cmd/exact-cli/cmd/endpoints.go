package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
)

// endpointsCmd represents the endpoints command.
var endpointsCmd = &cobra.Command{
	Use:   "endpoints [service [resource]]",
	Short: "Browse the endpoint tables",
	Long: `Browse the built-in endpoint tables.

Without arguments the services are listed, with a service its resources,
and with a service and resource the operations and fields.

Example:
  exact-cli endpoints
  exact-cli endpoints crm
  exact-cli endpoints crm Accounts`,
	Args: cobra.MaximumNArgs(2),
	Run:  runEndpoints,
}

func runEndpoints(cmd *cobra.Command, args []string) {
	registry, err := endpoint.LoadEmbedded()
	exitOnError(err, "failed to load endpoint tables")

	switch len(args) {
	case 0:
		for _, service := range registry.Services() {
			fmt.Println(service)
		}
	case 1:
		resources := registry.Resources(args[0])
		if len(resources) == 0 {
			exitOnError(fmt.Errorf("no resources for service '%s'", args[0]), "unknown service")
		}
		for _, resource := range resources {
			fmt.Println(resource)
		}
	default:
		cfg, err := registry.Lookup(args[0], args[1])
		exitOnError(err, "unknown endpoint")

		fmt.Printf("Endpoint:   %s\n", cfg)
		fmt.Printf("URI:        %s\n", cfg.URI)
		fmt.Printf("Operations: %s\n", strings.Join(registry.Operations(cfg), ", "))
		if cfg.ParentResource != "" {
			fmt.Printf("Parent:     %s\n", cfg.ParentResource)
		}
		if cfg.Doc != "" {
			fmt.Printf("Docs:       %s\n", cfg.Doc)
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FIELD\tTYPE\tMANDATORY\tFILTER")
		for _, f := range cfg.Fields {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", f.Name, f.RawType, f.Mandatory, f.Filter)
		}
		w.Flush()
	}
}
