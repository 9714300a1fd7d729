package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewCatalogsCommand groups the catalog subcommands.
func NewCatalogsCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "catalogs",
		Short: "Inspect and manage catalogs",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "lumina server URL")

	cmd.AddCommand(newCatalogsListCommand(&serverURL))
	cmd.AddCommand(newCatalogsCreateCommand(&serverURL))
	return cmd
}

func newCatalogsListCommand(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newAPIClient(*serverURL).listCatalogs()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No catalogs.")
				return nil
			}
			renderCatalogsTable(os.Stdout, list)
			return nil
		},
	}
}

func newCatalogsCreateCommand(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name> <directory> [directory...]",
		Short: "Create a catalog over one or more source directories",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := make([]string, 0, len(args)-1)
			for _, dir := range args[1:] {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				dirs = append(dirs, abs)
			}

			cat, err := newAPIClient(*serverURL).createCatalog(args[0], dirs)
			if err != nil {
				return err
			}
			fmt.Printf("Created catalog %s (%s)\n", cat.Name, cat.ID)
			return nil
		},
	}
}
