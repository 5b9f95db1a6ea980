package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/luma/chatter/client"
	"github.com/luma/chatter/internal/env"
)

var ClientCmd = &cobra.Command{
	Use:   "client <host> <port> [identity]",
	Short: "Join a chat server",
	Long: `Join a chat server

Usage
	chatter client <host> <port> [identity]

The identity is asked for when it isn't given. Lines typed are sent to
everyone, except for these commands:

` + commandHelp,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(2, 3)(cmd, args); err != nil {
			return err
		}

		_, err := parsePort(args[1])
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync()

		session, err := client.Dial(ctx, net.JoinHostPort(args[0], args[1]), client.Options{
			DownloadDir:      conf.DownloadDir,
			HandshakeTimeout: conf.HandshakeTimeout,
			Log:              log.Named("client"),
		})
		if err != nil {
			return err
		}

		var identity string
		if len(args) == 3 {
			identity = args[2]
		}

		in := bufio.NewScanner(os.Stdin)
		out := cmd.OutOrStdout()
		interactive := term.IsTerminal(int(os.Stdin.Fd()))

		if err := authenticate(ctx, session, identity, in, out, interactive); err != nil {
			return err
		}

		printed := make(chan struct{})
		go func() {
			defer close(printed)
			for ev := range session.Events() {
				fmt.Fprintln(out, formatEvent(ev))
			}
		}()

		go func() {
			for in.Scan() {
				quit, err := dispatch(session, in.Text())
				if err != nil {
					fmt.Fprintln(out, "!", err)
				}
				if quit {
					return
				}
			}

			// stdin is done, leave
			if err := session.Disconnect(); err != nil {
				log.Warn("Failed to disconnect", zap.Error(err))
			}
		}()

		err = session.Run(ctx)
		<-printed

		return err
	},
}

// authenticate claims identity, asking for one on in whenever there is none
// or the server refuses it.
func authenticate(ctx context.Context, session *client.Session, identity string, in *bufio.Scanner, out io.Writer, interactive bool) error {
	for {
		if identity == "" {
			if interactive {
				fmt.Fprint(out, "Identity: ")
			}

			if !in.Scan() {
				if err := in.Err(); err != nil {
					return err
				}
				return errors.New("no identity given")
			}

			identity = strings.TrimSpace(in.Text())
		}

		err := session.Authenticate(ctx, identity)
		if err == nil {
			fmt.Fprintf(out, "Joined as %s\n", identity)
			return nil
		}

		if !interactive || !(errors.Is(err, client.ErrRejected) || errors.Is(err, client.ErrInvalidIdentity)) {
			return err
		}

		fmt.Fprintf(out, "%s is taken or invalid, try another\n", identity)
		identity = ""
	}
}
