package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/topic"
)

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics <topics.xml>",
		Short: "List topics with their cleaned query text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			topics, err := topic.LoadXML(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if e.format == "json" {
				queries := make([]topic.Query, 0, len(topics))
				for _, id := range topics.IDs() {
					queries = append(queries, topics[id])
				}
				return report.WriteJSON(out, queries)
			}

			for _, id := range topics.IDs() {
				q := topics[id]
				fmt.Fprintf(out, "%s\t%s\t%s\n", id, topic.Clean(q.Text), strings.Join(q.Objects[:], ", "))
			}
			return nil
		},
	}
	return cmd
}
