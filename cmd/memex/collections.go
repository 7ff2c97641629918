package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCollectionsCmd groups collection maintenance commands.
func NewCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"collection"},
		Short:   "List and delete collections",
	}
	cmd.AddCommand(newListCollectionsCmd(), newDeleteCollectionCmd())
	return cmd
}

func newListCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List collections",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.Close() }()

			cols, err := a.Collections.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range cols {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Name(), c.CreatedAt().Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func newDeleteCollectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"del", "rm"},
		Short:   "Delete a collection with its documents, tasks, segments and vectors",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.Close() }()

			if err := a.Collections.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete collection: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
