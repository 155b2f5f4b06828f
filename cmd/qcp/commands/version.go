package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "qcp %s (%s, %s/%s, protocol level %d)\n",
			Version, Commit, runtime.GOOS, runtime.GOARCH, protocol.OurCompatibilityLevel)
	},
}
