package remote

import (
	"fmt"
	"sort"
	"strings"
)

// FormatCmd renders a guest command with an environment prefix, each
// variable emitted as K="v" ahead of the command itself. Keys are
// sorted so rendered commands are stable.
func FormatCmd(env map[string]string, cmd string) string {
	if len(env) == 0 {
		return cmd
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%q ", k, env[k])
	}
	b.WriteString(cmd)
	return b.String()
}
