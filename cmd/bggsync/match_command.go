package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bggsync/internal/core/bgg"
	"bggsync/internal/core/match"
	"bggsync/internal/utils/htmltext"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var hints match.Hints
	var preview int

	cmd := &cobra.Command{
		Use:   "match <name>",
		Short: "Look up the BoardGameGeek record chosen for a product name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			engine, err := ctx.matchEngine(cfg)
			if err != nil {
				return err
			}
			name := strings.Join(args, " ")
			detail, err := engine.FindBestMatch(cmd.Context(), name, hints)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.jsonOutput() {
				return writeJSON(out, detail)
			}
			if detail == nil {
				fmt.Fprintf(out, "No match for %q\n", name)
				return nil
			}
			fmt.Fprint(out, detailTable(detail))
			if preview > 0 && detail.DescriptionHTML != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, htmltext.Truncate(htmltext.ToMarkdown(detail.DescriptionHTML), preview))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&hints.Year, "year", 0, "Publication year hint")
	cmd.Flags().StringVar(&hints.Publisher, "publisher", "", "Publisher hint")
	cmd.Flags().StringVar(&hints.UPC, "upc", "", "UPC/EAN barcode to resolve a product title")
	cmd.Flags().IntVar(&preview, "preview", 600, "Characters of the description to print as markdown (0 disables)")
	return cmd
}

func detailTable(d *bgg.Detail) string {
	year := "-"
	if d.YearPublished != nil {
		year = strconv.Itoa(*d.YearPublished)
	}
	rows := [][]string{
		{"ID", strconv.Itoa(d.ExternalID)},
		{"Name", d.Name},
		{"Year", year},
		{"Publishers", truncateCell(strings.Join(d.Publishers, ", "), 60)},
		{"Image", d.ImageURL},
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}
