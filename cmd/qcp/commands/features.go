package commands

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List the protocol features this build supports",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Compatibility level: %d\n\n", protocol.OurCompatibilityLevel)
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Feature", "Level", "Notes"})
		table.SetAutoWrapText(false)
		table.SetBorder(false)
		for _, f := range protocol.Features() {
			table.Append([]string{f.Symbol, strconv.Itoa(int(f.RequiredLevel)), f.Description})
		}
		table.Render()
	},
}
