package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"bggsync/internal/core/job"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(aligns))
	for i, a := range aligns {
		if a == alignRight {
			configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
		}
	}
	if len(configs) > 0 {
		tw.SetColumnConfigs(configs)
	}
	return tw.Render() + "\n"
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorStatus(status job.OutcomeStatus, color bool) string {
	if !color {
		return string(status)
	}
	switch status {
	case job.OutcomeSynced:
		return text.FgGreen.Sprint(status)
	case job.OutcomeNoMatch:
		return text.FgYellow.Sprint(status)
	default:
		return text.FgRed.Sprint(status)
	}
}

func summaryTable(s job.Summary) string {
	rows := [][]string{
		{"Items", strconv.Itoa(s.Total)},
		{"Synced", strconv.Itoa(s.Synced)},
		{"No match", strconv.Itoa(s.NoMatch)},
		{"Errors", strconv.Itoa(s.Errors)},
		{"Auth errors", strconv.Itoa(s.AuthErrors)},
	}
	if s.Aborted {
		rows = append(rows, []string{"Aborted", "yes"})
	}
	return renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}

func outcomesTable(outcomes []job.Outcome, color bool) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		ext := "-"
		if o.ExternalID != nil {
			ext = strconv.Itoa(*o.ExternalID)
		}
		detail := o.Error
		if o.ErrorKind != "" {
			detail = fmt.Sprintf("%s: %s", o.ErrorKind, o.Error)
		}
		rows = append(rows, []string{o.ItemID, truncateCell(o.Name, 40), colorStatus(o.Status, color), ext, truncateCell(detail, 60)})
	}
	return renderTable(
		[]string{"Item", "Name", "Status", "BGG", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func truncateCell(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
