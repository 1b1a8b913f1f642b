package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var stdout io.Writer = os.Stdout

func disableColor() {
	color.NoColor = true
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func yesNo(b bool) string {
	if b {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}

func successf(format string, args ...any) {
	fmt.Fprintln(stdout, color.GreenString(format, args...))
}

func warnf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString("warning: "+format, args...))
}
