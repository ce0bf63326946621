package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

func (c *cli) entitiesCmd() *cobra.Command {
	var f core.EntityFilter
	var plant, typ, status string

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List registry entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.PlantKey = plant
			f.EntityType = schema.EntityType(typ)
			f.Status = registry.Status(status)

			ents := c.app.Service.Entities(f)
			sort.Slice(ents, func(i, j int) bool {
				if ents[i].EntityType != ents[j].EntityType {
					return ents[i].EntityType < ents[j].EntityType
				}
				return ents[i].Key < ents[j].Key
			})

			out := cmd.OutOrStdout()
			if c.asJSON {
				return printJSON(out, ents)
			}
			rows := [][]string{{"UID", "TYPE", "PLANT", "KEY", "STATUS", "UPDATED"}}
			for _, e := range ents {
				rows = append(rows, []string{
					e.UID, string(e.EntityType), e.PlantKey, e.Key, string(e.Status),
					e.UpdatedAt.Format(time.RFC3339),
				})
			}
			return table(out, rows)
		},
	}
	cmd.Flags().StringVar(&plant, "plant", "", "only this plant")
	cmd.Flags().StringVar(&typ, "type", "", "only this entity type")
	cmd.Flags().StringVar(&status, "status", "", "active or inactive")

	cmd.AddCommand(
		c.statusCmd("activate", "Reactivate an entity", c.activate),
		c.statusCmd("deactivate", "Mark an entity inactive", c.deactivate),
	)
	return cmd
}

func (c *cli) activate(cmd *cobra.Command, uid, reason string) (registry.EntityRecord, error) {
	return c.app.Service.Activate(cmd.Context(), uid, reason)
}

func (c *cli) deactivate(cmd *cobra.Command, uid, reason string) (registry.EntityRecord, error) {
	return c.app.Service.Deactivate(cmd.Context(), uid, reason)
}

func (c *cli) statusCmd(use, short string, fn func(*cobra.Command, string, string) (registry.EntityRecord, error)) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <uid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := fn(cmd, args[0], reason)
			if err != nil {
				return err
			}
			if c.asJSON {
				return printJSON(cmd.OutOrStdout(), e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is %s\n", e.EntityType, e.Key, e.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	return cmd
}

func (c *cli) aliasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "List or add alias rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			aliases := c.app.Service.Aliases()
			out := cmd.OutOrStdout()
			if c.asJSON {
				return printJSON(out, aliases)
			}
			rows := [][]string{{"OLD KEY", "TARGET", "TYPE", "PLANT", "REASON"}}
			for _, a := range aliases {
				rows = append(rows, []string{a.OldKey, a.TargetUID, string(a.EntityType), a.PlantKey, a.Reason})
			}
			return table(out, rows)
		},
	}

	var a registry.AliasRule
	var typ string
	add := &cobra.Command{
		Use:   "add <old-key> <target-uid>",
		Short: "Map an old key to an existing entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.OldKey, a.TargetUID = args[0], args[1]
			a.EntityType = schema.EntityType(strings.TrimSpace(typ))
			if a.EntityType == "" {
				return fmt.Errorf("--type is required")
			}
			saved, err := c.app.Service.AddAlias(cmd.Context(), a)
			if err != nil {
				return err
			}
			if c.asJSON {
				return printJSON(cmd.OutOrStdout(), saved)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "alias %s -> %s saved\n", saved.OldKey, saved.TargetUID)
			return nil
		},
	}
	add.Flags().StringVar(&typ, "type", "", "entity type of the target (required)")
	add.Flags().StringVar(&a.PlantKey, "plant", "", "plant of the target")
	add.Flags().StringVar(&a.Reason, "reason", "", "reason recorded in the audit log")

	cmd.AddCommand(add)
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	var f core.AuditFilter
	var action string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Action = registry.AuditAction(action)
			entries := c.app.Service.AuditLog(f)

			out := cmd.OutOrStdout()
			if c.asJSON {
				return printJSON(out, entries)
			}
			rows := [][]string{{"TIME", "ACTION", "TYPE", "KEY", "UID", "DETAIL"}}
			for _, e := range entries {
				detail := e.Detail
				if e.Reason != "" {
					detail = strings.TrimSpace(detail + " (" + e.Reason + ")")
				}
				rows = append(rows, []string{
					e.Timestamp.Format(time.RFC3339), string(e.Action), string(e.EntityType), e.Key, e.UID, detail,
				})
			}
			return table(out, rows)
		},
	}
	cmd.Flags().StringVar(&f.UID, "uid", "", "only this entity")
	cmd.Flags().StringVar(&action, "action", "", "only this action")
	cmd.Flags().StringVar(&f.ImportRunID, "run", "", "only this import run")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum entries")
	return cmd
}

func (c *cli) importsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "imports",
		Short: "Show committed import history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := c.app.Service.ListImports(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.asJSON {
				return printJSON(out, recs)
			}
			rows := [][]string{{"COMMITTED", "VERSION", "FILE", "PLANT", "C/U/D/R", "WARNINGS"}}
			for _, r := range recs {
				s := r.Summary
				rows = append(rows, []string{
					r.CommittedAt.Format(time.RFC3339),
					strconv.FormatInt(r.Version, 10),
					r.SourceFile,
					r.PlantKey,
					fmt.Sprintf("%d/%d/%d/%d", s.Created, s.Updated, s.Deleted, s.Renamed),
					strconv.Itoa(r.Warnings),
				})
			}
			return table(out, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	return cmd
}
