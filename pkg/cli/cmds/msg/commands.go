package msg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/groupnet/pkg/cli/sh"
	"github.com/robotalks/groupnet/pkg/groupnet"
)

// DefaultRecvWait is the wait of recv without WAIT-MS.
const DefaultRecvWait = time.Second

var (
	// SendCmd sends text.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "ADDR|group|bcast TEXT...",
		Func: sh.MustBeReady(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("destination and TEXT required"))
				return
			}
			dst, err := sh.ParseDest(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			size, err := sh.NodeFrom(c).Send(dst, []byte(strings.Join(c.Args[1:], " ")), groupnet.WaitForever)
			if err != nil {
				sh.Err(c, err)
				return
			}
			sh.Print(c, size, fmt.Sprintf("%d bytes queued", size))
		}),
	}

	// RecvCmd receives a packet.
	RecvCmd = ishell.Cmd{
		Name:    "recv",
		Aliases: []string{"r"},
		Help:    "[WAIT-MS]",
		Func: sh.MustBeReady(func(c *ishell.Context) {
			wait := DefaultRecvWait
			if len(c.Args) > 0 {
				var err error
				if wait, err = ParseWait(c.Args[0]); err != nil {
					c.Err(err)
					return
				}
			}
			src, payload, err := sh.NodeFrom(c).Receive(wait)
			if err != nil {
				sh.Err(c, err)
				return
			}
			result := struct {
				Src     string `json:"src"`
				Payload []byte `json:"payload"`
			}{Src: src.String(), Payload: payload}
			sh.Print(c, result, fmt.Sprintf("%s %q", result.Src, payload))
		}),
	}
)

// ParseWait parses WAIT-MS, a non-negative number of milliseconds.
func ParseWait(arg string) (time.Duration, error) {
	ms, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("Invalid WAIT-MS: %v", err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("Invalid WAIT-MS: %d is negative", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func init() {
	sh.AddCmds(
		&SendCmd,
		&RecvCmd,
	)
}
