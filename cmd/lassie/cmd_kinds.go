package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lassie/internal/kinds"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the supported resource kinds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeKinds(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}

func writeKinds(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tEVENT\tALIASES\tDESCRIPTION")
	for _, def := range kinds.All() {
		rule := def.New(aws.Config{}, kinds.Scope{}).Rule()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Name, rule.EventName, strings.Join(def.Aliases, ","), def.Description)
	}
	return tw.Flush()
}
