// Package all registers all shell commands.
package all

import (
	// command packages
	_ "github.com/robotalks/groupnet/pkg/cli/cmds/group"
	_ "github.com/robotalks/groupnet/pkg/cli/cmds/msg"
)
