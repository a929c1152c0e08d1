// Command tterm is the CLI client for ttermd: create, list, attach to,
// detach from, and terminate PTY sessions over the daemon's Unix socket.
//
// Grounded on cmd/catherd/main.go's subcommand switch from the teacher.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ianremillard/tterm/internal/client"
	"github.com/ianremillard/tterm/internal/daemon"
	"github.com/ianremillard/tterm/internal/ids"
)

func main() {
	socketPath := flag.String("socket", daemon.DefaultUnixSocketPath, "unix socket path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	c, err := client.Dial(*socketPath)
	if err != nil {
		fatalf("dial %s: %v", *socketPath, err)
	}
	defer c.Close()

	switch args[0] {
	case "create":
		cmdCreate(c, args[1:])
	case "list":
		cmdList(c)
	case "attach":
		cmdAttach(c, args[1:])
	case "detach":
		cmdDetach(c, args[1:])
	case "terminate":
		cmdTerminate(c, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: tterm [-socket path] <command> [args]

commands:
  create [shell] [cwd]     create a new session
  list                     list all sessions
  attach <session-id>      attach interactively to a session
  detach <session-id>      detach from a session
  terminate <session-id>   terminate a session
`)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "tterm: "+format+"\n", args...)
	os.Exit(1)
}

func cmdCreate(c *client.Client, args []string) {
	shell := "/bin/bash"
	cwd := ""
	if len(args) > 0 {
		shell = args[0]
	}
	if len(args) > 1 {
		cwd = args[1]
	}
	sid, err := c.CreateSession(shell, cwd)
	if err != nil {
		fatalf("create: %v", err)
	}
	fmt.Println(sid)
}

func cmdList(c *client.Client) {
	sessions, err := c.ListSessions()
	if err != nil {
		fatalf("list: %v", err)
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\t%s\tattached=%d\n", s.SessionID, s.State, s.Shell, s.Attached)
	}
}

func cmdAttach(c *client.Client, args []string) {
	sid := parseSessionID(args)
	if err := c.RunInteractive(sid); err != nil {
		fatalf("attach: %v", err)
	}
}

func cmdDetach(c *client.Client, args []string) {
	sid := parseSessionID(args)
	if err := c.DetachFromSession(sid); err != nil {
		fatalf("detach: %v", err)
	}
}

func cmdTerminate(c *client.Client, args []string) {
	sid := parseSessionID(args)
	if err := c.TerminateSession(sid); err != nil {
		fatalf("terminate: %v", err)
	}
}

func parseSessionID(args []string) ids.SessionID {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	sid, err := ids.ParseSessionID(args[0])
	if err != nil {
		fatalf("invalid session id %q: %v", args[0], err)
	}
	return sid
}
