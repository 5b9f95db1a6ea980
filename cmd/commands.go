package cmd

import (
	"fmt"
	"strings"

	"github.com/luma/chatter/client"
)

const commandHelp = `	/private <identity>          ask for a private link
	/accept <identity>           accept a private link
	/msg <identity> <text>       send a private message
	/file <identity> <path>      send a file over a private link
	/close <identity>            close a private link
	/quit                        leave
`

// Chat is what the command line drives, see client.Session.
type Chat interface {
	SendPublicMessage(text string) error
	OpenPrivate(peer string) error
	AcceptPrivate(peer string) error
	SendPrivateMessage(peer, text string) error
	SendPrivateFile(peer, path string) error
	ClosePrivate(peer string) error
	Disconnect() error
}

// dispatch runs one line of input. It reports whether the user is leaving.
func dispatch(chat Chat, line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return false, nil
		}
		return false, chat.SendPublicMessage(line)
	}

	command, rest := cut(line)
	peer, arg := cut(rest)

	switch command {
	case "/quit":
		return true, chat.Disconnect()

	case "/private":
		err = needs(command, peer, chat.OpenPrivate)
	case "/accept":
		err = needs(command, peer, chat.AcceptPrivate)
	case "/close":
		err = needs(command, peer, chat.ClosePrivate)

	case "/msg":
		err = needsArg(command, peer, arg, chat.SendPrivateMessage)
	case "/file":
		err = needsArg(command, peer, arg, chat.SendPrivateFile)

	default:
		err = fmt.Errorf("unknown command %s, try one of\n%s", command, commandHelp)
	}

	return false, err
}

func needs(command, peer string, fn func(string) error) error {
	if peer == "" {
		return fmt.Errorf("%s needs an identity", command)
	}
	return fn(peer)
}

func needsArg(command, peer, arg string, fn func(string, string) error) error {
	if peer == "" || arg == "" {
		return fmt.Errorf("%s needs an identity and an argument", command)
	}
	return fn(peer, arg)
}

func cut(s string) (string, string) {
	before, after, _ := strings.Cut(strings.TrimSpace(s), " ")
	return before, strings.TrimSpace(after)
}

func formatEvent(ev client.Event) string {
	switch ev.Kind {
	case client.EventJoined:
		return fmt.Sprintf("* %s joined", ev.Peer)
	case client.EventLeft:
		return fmt.Sprintf("* %s left", ev.Peer)
	case client.EventMessage:
		return fmt.Sprintf("<%s> %s", ev.Peer, ev.Text)
	case client.EventPrivateRequest:
		return fmt.Sprintf("* %s wants a private link, /accept %s", ev.Peer, ev.Peer)
	case client.EventPrivateEstablished:
		return fmt.Sprintf("* private link with %s established", ev.Peer)
	case client.EventPrivateFailed:
		return fmt.Sprintf("! private link with %s failed: %v", ev.Peer, ev.Err)
	case client.EventPrivateMessage:
		return fmt.Sprintf("[%s] %s", ev.Peer, ev.Text)
	case client.EventPrivateFile:
		return fmt.Sprintf("* %s sent %s (%d bytes)", ev.Peer, ev.Path, ev.Size)
	case client.EventPrivateClosed:
		if ev.Err != nil {
			return fmt.Sprintf("* private link with %s closed: %v", ev.Peer, ev.Err)
		}
		return fmt.Sprintf("* private link with %s closed", ev.Peer)
	case client.EventError:
		return fmt.Sprintf("! %s", ev.Code)
	}

	return fmt.Sprintf("? %s", ev.Kind)
}
