package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/engine"
)

// indexListing is one row of `indexkeeper indexes` output.
type indexListing struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Auto     bool   `json:"auto_created"`
	InMemory bool   `json:"in_memory_eligible"`
}

func newIndexesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "List the indexes stored in the data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			e := engine.New(cfg.Storage.DataDir, false)
			defs, broken := e.ListDefinitions()
			for dir, berr := range broken {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", dir, berr)
			}

			listings := make([]indexListing, 0, len(defs))
			for _, def := range defs {
				listings = append(listings, indexListing{
					Name:     def.Name,
					Kind:     def.Kind.String(),
					Auto:     def.AutoCreated,
					InMemory: def.InMemoryEligible,
				})
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listings)
			}

			if len(listings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no indexes found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tAUTO\tGENERATION")
			for _, def := range defs {
				gen, _ := engine.ReadGeneration(e.IndexPath(def.Name))
				fmt.Fprintf(w, "%s\t%s\t%v\t%d\n", def.Name, def.Kind, def.AutoCreated, gen)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
