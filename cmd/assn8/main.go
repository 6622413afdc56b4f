// Package main implements an SN8F2288 assembler producing firmware
// images.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vpelletier/dissn8/internal/asm"
	"github.com/vpelletier/dissn8/internal/cli"
)

var (
	version = "0.1.0"
	commit  = ""
	date    = ""
)

type optionFlags struct {
	input  string
	output string
	quiet  bool
}

func main() {
	tool, options := readArguments()

	if !options.quiet {
		tool.PrintBanner(version, commit, date)
	}

	if err := assembleFile(options); err != nil {
		fmt.Println(fmt.Errorf("assembling failed: %w", err))
		os.Exit(1)
	}
}

func readArguments() (*cli.Tool, optionFlags) {
	tool := cli.New("assn8", "SN8F2288 assembler", "<source file>")
	options := optionFlags{}

	tool.Flags.StringVar(&options.output, "o", "", "name of the output firmware image, derived from the source name if no name given")
	tool.Flags.BoolVar(&options.quiet, "q", false, "perform operations quietly")

	args, err := tool.Parse(os.Args[1:], 1)
	if err != nil {
		tool.PrintBanner(version, commit, date)
		var usageErr *cli.UsageError
		if errors.As(err, &usageErr) {
			usageErr.ShowUsage()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
	options.input = args[0]
	if options.output == "" {
		options.output = strings.TrimSuffix(options.input, filepath.Ext(options.input)) + ".bin"
	}

	return tool, options
}

func assembleFile(options optionFlags) error {
	source, err := os.ReadFile(options.input)
	if err != nil {
		return fmt.Errorf("reading file '%s': %w", options.input, err)
	}

	image, err := asm.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("assembling '%s': %w", options.input, err)
	}

	if err := os.WriteFile(options.output, image, 0o644); err != nil {
		return fmt.Errorf("writing file '%s': %w", options.output, err)
	}
	if !options.quiet {
		fmt.Printf("Output file %s created successfully\n", options.output)
	}
	return nil
}
