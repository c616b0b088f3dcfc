package utils

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// BoolFlagNames collects the long and short names of every boolean flag in sets
func BoolFlagNames(sets ...*pflag.FlagSet) map[string]struct{} {
	names := make(map[string]struct{})
	for _, fs := range sets {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Value.Type() != "bool" {
				return
			}
			names[f.Name] = struct{}{}
			if f.Shorthand != "" {
				names[f.Shorthand] = struct{}{}
			}
		})
	}
	return names
}

// NormalizeBooleanFlags joins "--flag false" into "--flag=false" for the named boolean flags.
// pflag treats a bare boolean flag as true and would read the following word as a positional argument.
// Everything after a "--" terminator is left alone.
func NormalizeBooleanFlags(args []string, boolFlags map[string]struct{}) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if i+1 < len(args) && isBoolFlag(arg, boolFlags) {
			if v := strings.ToLower(args[i+1]); v == "true" || v == "false" {
				out = append(out, arg+"="+v)
				i++
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

func isBoolFlag(arg string, boolFlags map[string]struct{}) bool {
	if !strings.HasPrefix(arg, "-") || strings.Contains(arg, "=") {
		return false
	}
	_, ok := boolFlags[strings.TrimLeft(arg, "-")]
	return ok
}

// MultiValueHeader implements pflag.Value to collect repeated --header Name=Value entries.
type MultiValueHeader struct {
	Headers map[string]string
}

func (m *MultiValueHeader) String() string {
	if len(m.Headers) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.Headers))
	for name := range m.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (m *MultiValueHeader) Set(val string) error {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	name, value, _ := strings.Cut(val, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("header %q has no name", val)
	}
	m.Headers[name] = value
	return nil
}

func (m *MultiValueHeader) Type() string { return "header" }
