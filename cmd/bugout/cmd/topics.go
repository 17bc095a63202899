package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tsarna/bugout/pkg/bugout/topic"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List every topic and the message kind it carries",
	Args:  cobra.NoArgs,
	RunE:  runTopics,
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}

func runTopics(cmd *cobra.Command, args []string) error {
	return printTopics(cmd, topic.Default())
}

func printTopics(cmd *cobra.Command, registry *topic.Registry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tDIRECTION\tKIND\tNOTE")

	for _, t := range registry.Topics() {
		direction, kind := "event", ""
		if k, ok := registry.CommandKind(t); ok {
			direction, kind = "command", string(k)
		} else if k, ok := registry.EventKind(t); ok {
			kind = string(k)
		}

		note := ""
		if registry.IsReserved(t) {
			note = "reserved"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t, direction, kind, note)
	}

	return w.Flush()
}
