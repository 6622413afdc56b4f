// Package cli handles command line interface logic shared by the
// simulator tools.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/retroenv/retrogolib/buildinfo"
)

// Tool carries the flag set and usage information of one command line
// tool.
type Tool struct {
	Name    string
	Tagline string
	ArgsUse string

	Flags *flag.FlagSet
}

// New returns a tool with an empty flag set. The caller registers its
// options on Flags before calling Parse.
func New(name, tagline, argsUse string) *Tool {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	return &Tool{
		Name:    name,
		Tagline: tagline,
		ArgsUse: argsUse,
		Flags:   flags,
	}
}

// Parse parses the command line and returns the positional arguments.
// A flag error or a wrong argument count returns a UsageError.
func (t *Tool) Parse(arguments []string, positional int) ([]string, error) {
	if err := t.Flags.Parse(arguments); err != nil {
		return nil, &UsageError{tool: t, msg: err.Error()}
	}
	args := t.Flags.Args()
	if len(args) != positional {
		return nil, &UsageError{tool: t}
	}
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-") {
			return nil, &UsageError{
				tool: t,
				msg:  fmt.Sprintf("potential option %s found after file argument, pass options first", arg),
			}
		}
	}
	return args, nil
}

// PrintBanner prints the tool name box and version.
func (t *Tool) PrintBanner(version, commit, date string) {
	line := fmt.Sprintf("[ %s - %s ]", t.Name, t.Tagline)
	border := "[" + strings.Repeat("-", len(line)-2) + "]"
	fmt.Println(border)
	fmt.Println(line)
	fmt.Printf("%s\n\n", border)
	fmt.Printf("version: %s\n\n", buildinfo.Version(version, commit, date))
}

// UsageError represents an error that should show usage information.
type UsageError struct {
	tool *Tool
	msg  string
}

func (e *UsageError) Error() string {
	if e.msg == "" {
		return "invalid usage"
	}
	return e.msg
}

// ShowUsage prints the usage line and the flag defaults.
func (e *UsageError) ShowUsage() {
	flags := e.tool.Flags
	flags.SetOutput(nil)
	fmt.Printf("usage: %s [options] %s\n\n", e.tool.Name, e.tool.ArgsUse)
	flags.PrintDefaults()
	fmt.Println()
}
