package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luma/chatter/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "chatter",
	Short: "Multi-user text chat with direct private channels",
	Long: `Multi-user text chat with direct private channels

Run a server with

	chatter server 7363

and connect to it with

	chatter client localhost 7363 [identity]
`,
}

func init() {
	RootCmd.AddCommand(ServerCmd)
	RootCmd.AddCommand(ClientCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parsePort accepts a TCP port number, 1 to 65535.
func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, &portError{arg: arg}
	}

	return port, nil
}

type portError struct {
	arg string
}

func (e *portError) Error() string {
	return strconv.Quote(e.arg) + " is not a valid port, expected 1-65535"
}
