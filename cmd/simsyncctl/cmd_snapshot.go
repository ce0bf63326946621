package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func (c *cli) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or restore the registry document",
	}

	export := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the registry as JSON to a file, or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || args[0] == "-" {
				return c.app.Service.ExportSnapshot(cmd.Context(), cmd.OutOrStdout())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := c.app.Service.ExportSnapshot(cmd.Context(), f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			reg := c.app.Service.Registry()
			fmt.Fprintf(cmd.ErrOrStderr(), "exported version %d (%d entities) to %s\n", reg.Version(), reg.Len(), args[0])
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the registry with a snapshot file",
		Long: `Replaces the entire registry, including aliases, overrides and the
audit log, with the snapshot in <file>. A snapshot that fails validation is
rejected and the current registry is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			reg, err := c.app.Service.ImportSnapshot(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported version %d (%d entities)\n", reg.Version(), reg.Len())
			return nil
		},
	}

	cmd.AddCommand(export, restore)
	return cmd
}

func (c *cli) wipeCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "DANGER: delete the registry, audit log and import history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to wipe without --yes")
			}
			if err := c.app.Service.Wipe(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "registry wiped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the wipe")
	return cmd
}
