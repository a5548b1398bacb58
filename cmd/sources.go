package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/price-harvester/internal/sources"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the crawlable sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog := sources.Default()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tMODE\tCOUNTRY\tTIMEZONE")
			for _, name := range catalog.Names() {
				def, err := catalog.Definition(name, sources.Env{})
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					def.Name, def.Kind, def.Mode, def.Metadata.Country, def.Timezone)
			}
			return w.Flush()
		},
	}
}
