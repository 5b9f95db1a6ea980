package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate docs for chatter",
	Long:  `Generate docs for chatter`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
