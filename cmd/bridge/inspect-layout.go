package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aerofly-bridge/bridge/internal/catalog"
)

func inspectLayoutCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "inspect-layout",
		Short: "Print the variable catalog's layout descriptor",
		Long:  "Loads the catalog (embedded default, or --config's catalog_path) and prints its layout descriptor, the same document on_load writes to disk for clients to consume.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var cat *catalog.Catalog
			if cfg.CatalogPath != "" {
				cat, err = catalog.LoadFromFile(cfg.CatalogPath)
			} else {
				cat, err = catalog.LoadDefault()
			}
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			if raw {
				data, err := cat.EmitLayoutDescriptor()
				if err != nil {
					return err
				}
				os.Stdout.Write(data)
				fmt.Println()
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tKIND\tGROUP\tNAME")
			for _, v := range cat.Variables() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.Index, v.Kind, v.Group, v.CanonicalName)
			}
			w.Flush()
			fmt.Printf("\n%d variables, generation %d\n", cat.Count(), cat.Generation())
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw JSON layout descriptor instead of a table")
	return cmd
}
