// Package main implements an SN8F2288 firmware image disassembler.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vpelletier/dissn8/internal/chip"
	"github.com/vpelletier/dissn8/internal/cli"
	"github.com/vpelletier/dissn8/internal/dis"
	"github.com/vpelletier/dissn8/internal/sn8"
)

var (
	version = "0.1.0"
	commit  = ""
	date    = ""
)

type optionFlags struct {
	input  string
	output string
	batch  string
	quiet  bool
}

func main() {
	tool, options := readArguments()

	if !options.quiet {
		tool.PrintBanner(version, commit, date)
	}

	files, err := filesToProcess(options)
	if err != nil {
		fmt.Println(fmt.Errorf("disassembling failed: %w", err))
		os.Exit(1)
	}

	for _, file := range files {
		fileOptions := options
		fileOptions.input = file
		if options.batch != "" {
			fileOptions.output = batchOutputName(file)
		}

		if err := disasmFile(fileOptions); err != nil {
			fmt.Println(fmt.Errorf("disassembling failed: %w", err))
			os.Exit(1)
		}
	}
}

// filesToProcess returns the input files, expanding the batch pattern
// if one was given.
func filesToProcess(options optionFlags) ([]string, error) {
	if options.batch == "" {
		return []string{options.input}, nil
	}
	matches, err := filepath.Glob(options.batch)
	if err != nil {
		return nil, fmt.Errorf("globbing batch pattern: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no files matching pattern '%s'", options.batch)
	}
	return matches, nil
}

func batchOutputName(inputFile string) string {
	ext := filepath.Ext(inputFile)
	return inputFile[:len(inputFile)-len(ext)] + ".asm"
}

func readArguments() (*cli.Tool, optionFlags) {
	tool := cli.New("dissn8", "SN8F2288 firmware disassembler", "<firmware image>")
	options := optionFlags{}

	tool.Flags.StringVar(&options.output, "o", "", "name of the output .asm file, printed on console if no name given")
	tool.Flags.StringVar(&options.batch, "batch", "", "process a batch of given path and file mask with automatic .asm file naming, for example *.bin")
	tool.Flags.BoolVar(&options.quiet, "q", false, "perform operations quietly")

	positional := 1
	if hasBatchFlag(os.Args[1:]) {
		positional = 0
	}
	args, err := tool.Parse(os.Args[1:], positional)
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
	if options.batch == "" {
		options.input = args[0]
	}

	return tool, options
}

// hasBatchFlag pre-scans the arguments because the positional argument
// count depends on whether batch mode is active.
func hasBatchFlag(arguments []string) bool {
	for _, arg := range arguments {
		if arg == "-batch" || arg == "--batch" ||
			strings.HasPrefix(arg, "-batch=") || strings.HasPrefix(arg, "--batch=") {
			return true
		}
	}
	return false
}

func disasmFile(options optionFlags) error {
	words, err := sn8.LoadImageFile(options.input)
	if err != nil {
		return err
	}
	def, err := chip.SN8F2288()
	if err != nil {
		return fmt.Errorf("loading chip definition: %w", err)
	}

	var outputFile io.WriteCloser
	if options.output == "" {
		outputFile = os.Stdout
	} else {
		outputFile, err = os.Create(options.output)
		if err != nil {
			return fmt.Errorf("creating file '%s': %w", options.output, err)
		}
	}

	if err := dis.New(def).Listing(outputFile, words); err != nil {
		return fmt.Errorf("writing listing: %w", err)
	}
	if options.output != "" {
		if err := outputFile.Close(); err != nil {
			return fmt.Errorf("closing file '%s': %w", options.output, err)
		}
	}
	if !options.quiet && options.output != "" {
		fmt.Printf("Output file %s created successfully\n", options.output)
	}
	return nil
}
