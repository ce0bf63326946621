package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/simsync/internal/application"
	"github.com/JonMunkholm/simsync/internal/config"
)

// opener builds the application for one command run.
type opener func(ctx context.Context, logLevel string) (*application.App, *config.Config, error)

// cli carries state shared by all commands of one invocation.
type cli struct {
	open opener

	logLevel string
	asJSON   bool

	app *application.App
	cfg *config.Config
}

func newCLI(open opener) *cli {
	return &cli{open: open}
}

// close releases the app opened by the last command, if any. Cobra skips
// post-run hooks when a command fails, so callers close explicitly.
func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "simsyncctl",
		Short: "Manage the simulation registry from the command line",
		Long: `simsyncctl previews and commits workbook imports, maintains aliases
and entity status, and exports or restores registry snapshots. It uses the
same environment configuration as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app, cfg, err := c.open(cmd.Context(), c.logLevel)
			if err != nil {
				return err
			}
			c.app, c.cfg = app, cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		c.ingestCmd(),
		c.entitiesCmd(),
		c.aliasCmd(),
		c.auditCmd(),
		c.importsCmd(),
		c.snapshotCmd(),
		c.wipeCmd(),
	)
	return root
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes aligned rows. The first row is the header.
func table(w io.Writer, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
