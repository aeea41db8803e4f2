// Package flagx lets several config layers share os.Args: each layer keeps
// only the flags it owns and parses them with its own FlagSet.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs returns the subset of args that belong to the allowed flags,
// preserving order. Both "-f value" and "-f=value" forms are recognised; a
// following token that starts with "-" is never taken as a value. Flags named
// in bools are owned too but never take a separate value, so "-v true" keeps
// only "-v"; use "-v=false" to switch one off.
func FilterArgs(args []string, allowed []string, bools ...string) []string {
	owned := make(map[string]bool, len(allowed)+len(bools))
	for _, f := range allowed {
		owned[f] = true
	}
	isBool := make(map[string]bool, len(bools))
	for _, f := range bools {
		owned[f] = true
		isBool[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, hasValue := strings.Cut(arg, "="); hasValue && strings.HasPrefix(arg, "-") {
			if owned[name] {
				out = append(out, arg)
			}
			continue
		}

		if !owned[arg] {
			continue
		}
		out = append(out, arg)
		if isBool[arg] {
			continue
		}
		if next := i + 1; next < len(args) && !strings.HasPrefix(args[next], "-") {
			out = append(out, args[next])
			i = next
		}
	}
	return out
}

// ConfigPath extracts the JSON config path given via -c or -config.
// Returns "" when neither is present.
func ConfigPath(args []string) string {
	return stringFlag(args, "", "c", "config")
}

// EnvFilePath extracts the dotenv file path given via -env. Defaults to ".env".
func EnvFilePath(args []string) string {
	return stringFlag(args, ".env", "env")
}

func stringFlag(args []string, def string, names ...string) string {
	allowed := make([]string, 0, len(names))
	for _, n := range names {
		allowed = append(allowed, "-"+n)
	}

	value := def
	fs := flag.NewFlagSet(names[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	for _, n := range names {
		fs.StringVar(&value, n, def, "")
	}
	_ = fs.Parse(FilterArgs(args, allowed))
	return value
}
