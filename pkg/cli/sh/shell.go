package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/groupnet/pkg/env"
	"github.com/robotalks/groupnet/pkg/groupnet"
	"github.com/robotalks/groupnet/pkg/radio"
)

// Shell provides ishell backed interactive shell on a Node.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoInit    bool

	Shell  *ishell.Shell
	Config *env.Config
	Node   *groupnet.Node
}

const (
	shellKey       = "$shell"
	uninitedPrompt = "[uninit] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	autoInit   bool

	// commands
	commands = []*ishell.Cmd{
		&InitCmd,
		&DeinitCmd,
		&StatusCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.BoolVar(&autoInit, "init", autoInit, "Initialize the node on start.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		AutoInit:    autoInit || evalOnly,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(uninitedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// NodeFrom gets the Node from ishell context.
func NodeFrom(c *ishell.Context) *groupnet.Node {
	return ShellFrom(c).Node
}

// MustBeReady wraps command func requires an initialized node.
func MustBeReady(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if n := NodeFrom(c); n == nil || n.State() != groupnet.StateReady {
			c.Err(fmt.Errorf("not initialized"))
			return
		}
		fn(c)
	}
}

// Err reports err with its result code.
func Err(c *ishell.Context, err error) {
	c.Err(fmt.Errorf("%v (code %d)", err, groupnet.CodeOf(err)))
}

// Print prints v as JSON in JSON mode, otherwise text.
func Print(c *ishell.Context, v interface{}, text string) {
	if !ShellFrom(c).OutputJSON {
		c.Println(text)
		return
	}
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// ParseDest parses the destination argument of send.
// "group" returns nil for all registered peers.
func ParseDest(s string) (*radio.Address, error) {
	switch strings.ToLower(s) {
	case "group", "grp":
		return nil, nil
	case "bcast", "broadcast":
		addr := radio.Broadcast
		return &addr, nil
	}
	addr, err := radio.ParseAddress(s)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// Init creates the node if needed and initializes it.
func (s *Shell) Init() error {
	if s.Node == nil {
		n, err := s.Config.NewNode()
		if err != nil {
			return err
		}
		s.Node = n
	}
	if err := s.Node.Init(); err != nil {
		return err
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", s.Node.LocalAddr()))
	return nil
}

// Deinit releases the node.
func (s *Shell) Deinit() error {
	if s.Node == nil {
		return nil
	}
	s.Shell.SetPrompt(uninitedPrompt)
	return s.Node.Deinit()
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoInit {
		if err := s.Init(); err != nil {
			log.Fatalf("init failed: %v", err)
		}
	}
	defer s.Deinit()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// InitCmd initializes the node.
	InitCmd = ishell.Cmd{
		Name: "init",
		Help: "",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Init(); err != nil {
				Err(c, err)
				return
			}
			c.Println("OK")
		},
	}

	// DeinitCmd releases the node.
	DeinitCmd = ishell.Cmd{
		Name: "deinit",
		Help: "",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Deinit(); err != nil {
				Err(c, err)
				return
			}
			c.Println("OK")
		},
	}

	// StatusCmd shows the node state.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			status := struct {
				State     string `json:"state"`
				Addr      string `json:"addr"`
				Transport string `json:"transport"`
			}{State: groupnet.StateUninit.String(), Transport: s.Config.Transport}
			if s.Node != nil {
				status.State = s.Node.State().String()
				status.Addr = s.Node.LocalAddr().String()
			}
			Print(c, status, fmt.Sprintf("%s %s %s", status.State, status.Addr, status.Transport))
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).Run(flag.Args()...)
}
