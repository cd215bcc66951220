package main

import (
	"fmt"
	"io"

	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jonwraymond/geoexec/toolset"
)

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Search and describe the geo tools",
	}
	cmd.AddCommand(newToolsSearchCmd(a), newToolsDescribeCmd(a))
	return cmd
}

func newToolsSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search tools by name, description and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.toolset(false)
			if err != nil {
				return err
			}
			results, err := ts.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), results, func(w io.Writer) {
				fmt.Fprintf(w, "%s tools matching %q\n", cases.Title(language.English).String(toolset.Namespace), args[0])
				for _, r := range results {
					fmt.Fprintf(w, "  %-20s %s\n", r.ID, r.ShortDescription)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func newToolsDescribeCmd(a *app) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "describe <id>",
		Short: "Show documentation for a tool such as geo:analyze",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.toolset(false)
			if err != nil {
				return err
			}
			level := tooldoc.DetailSummary
			if full {
				level = tooldoc.DetailFull
			}
			doc, err := ts.Describe(cmd.Context(), args[0], level)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), doc, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n  %s\n", args[0], doc.Summary)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include schema and notes")
	return cmd
}
