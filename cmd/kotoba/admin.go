package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

func (c *cli) intentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List the active pattern table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INTENT\tWEIGHT\tTEMPLATES\tCOMMAND")
			for _, def := range a.Intents().Table().Definitions() {
				templates := make([]string, len(def.Templates))
				for i, tpl := range def.Templates {
					templates[i] = tpl.Raw
				}
				command := "-"
				if _, ok := a.Registry().Lookup(def.Name); ok {
					command = def.Name
				}
				fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\n", def.Name, def.BaseWeight, strings.Join(templates, " | "), command)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) memoryCmd() *cobra.Command {
	var user string
	mem := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear a user's conversation memory",
	}
	mem.PersistentFlags().StringVarP(&user, "user", "u", "cli", "user whose memory to act on")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the user's entries, oldest first, learning profile and command stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Memory().Recent(cmd.Context(), user, 0)
			if err != nil {
				return err
			}
			profile, err := a.Learning().Profile(cmd.Context(), user)
			if err != nil {
				return err
			}
			stats, err := a.Engine().Stats(cmd.Context(), user)
			if err != nil {
				return err
			}
			out, err := sonic.ConfigStd.MarshalIndent(map[string]any{
				"user":    user,
				"entries": entries,
				"profile": profile,
				"stats":   stats,
			}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete every memory entry of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Memory().Len(cmd.Context(), user)
			if err != nil {
				return err
			}
			if err := a.Memory().Clear(cmd.Context(), user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries for %s\n", n, user)
			return nil
		},
	}

	mem.AddCommand(show, clear)
	return mem
}
