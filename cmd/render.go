package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/bomstore/api"
	"github.com/agentic-research/bomstore/internal/graph"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func typeLabel(kind string) string {
	if kind == graph.Assembly.String() {
		return yellow(kind)
	}
	return green(kind)
}

func printListing(w io.Writer, l api.Listing) {
	if len(l.Components) == 0 {
		fmt.Fprintln(w, "No components.")
		return
	}
	for _, c := range l.Components {
		fmt.Fprintf(w, "%s  %s\n", c.Name, typeLabel(c.Type))
		for _, ch := range c.Children {
			fmt.Fprintf(w, "    %s\n", ch)
		}
	}
}

func printTree(w io.Writer, lines []graph.TreeLine) {
	for _, l := range lines {
		indent := strings.Repeat("  ", l.Depth)
		suffix := ""
		if l.Repeated {
			suffix = " " + faint("(repeated)")
		}
		fmt.Fprintf(w, "%s%s  %s%s\n", indent, l.Component.Name, typeLabel(l.Component.Type().String()), suffix)
	}
}
