package group

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/groupnet/pkg/cli/sh"
)

var (
	// OpenCmd opens group registration.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"join"},
		Help:    "GROUP-ID",
		Func: sh.MustBeReady(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("GROUP-ID required"))
				return
			}
			id, err := strconv.ParseUint(c.Args[0], 0, 32)
			if err != nil {
				c.Err(fmt.Errorf("Invalid GROUP-ID: %v", err))
				return
			}
			if err := sh.NodeFrom(c).GroupOpen(uint32(id)); err != nil {
				sh.Err(c, err)
				return
			}
			c.Println("OK")
		}),
	}

	// CloseCmd closes group registration.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "",
		Func: sh.MustBeReady(func(c *ishell.Context) {
			if err := sh.NodeFrom(c).GroupClose(); err != nil {
				sh.Err(c, err)
				return
			}
			c.Println("OK")
		}),
	}

	// ClearCmd removes all registered peers.
	ClearCmd = ishell.Cmd{
		Name: "clear",
		Help: "",
		Func: sh.MustBeReady(func(c *ishell.Context) {
			if err := sh.NodeFrom(c).GroupClear(); err != nil {
				sh.Err(c, err)
				return
			}
			c.Println("OK")
		}),
	}

	// CountCmd prints the number of registered peers.
	CountCmd = ishell.Cmd{
		Name: "count",
		Help: "",
		Func: sh.MustBeReady(func(c *ishell.Context) {
			count, err := sh.NodeFrom(c).GroupCount()
			if err != nil {
				sh.Err(c, err)
				return
			}
			sh.Print(c, count, strconv.Itoa(count))
		}),
	}

	// PeersCmd lists registered peers.
	PeersCmd = ishell.Cmd{
		Name:    "peers",
		Aliases: []string{"p"},
		Help:    "",
		Func: sh.MustBeReady(func(c *ishell.Context) {
			peers, err := sh.NodeFrom(c).GroupPeers()
			if err != nil {
				sh.Err(c, err)
				return
			}
			names := make([]string, len(peers))
			for n, peer := range peers {
				names[n] = peer.String()
			}
			if len(names) == 0 && !sh.ShellFrom(c).OutputJSON {
				c.Println("No peers registered")
				return
			}
			sh.Print(c, names, strings.Join(names, "\n"))
		}),
	}
)

func init() {
	sh.AddCmds(
		&OpenCmd,
		&CloseCmd,
		&ClearCmd,
		&CountCmd,
		&PeersCmd,
	)
}
