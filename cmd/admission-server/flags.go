package main

import (
	"flag"
	"fmt"
	"io"
)

type flags struct {
	configPath string
	addr       string
	mode       string
	printCfg   bool
}

func parseFlags(args []string, output io.Writer) (flags, error) {
	if output == nil {
		output = io.Discard
	}
	var f flags
	fs := flag.NewFlagSet("admission-server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.configPath, "config", "", "config file path (TOML)")
	fs.StringVar(&f.addr, "addr", "", "listen address, overrides config and ADDR")
	fs.StringVar(&f.mode, "mode", "", "runtime mode: development, test or production")
	fs.BoolVar(&f.printCfg, "print_config", false, "print the effective config and exit")
	fs.Usage = func() {
		fmt.Fprintln(output, "Usage")
		fmt.Fprintln(output, "  admission-server [flags]")
		fmt.Fprintln(output, "")
		fmt.Fprintln(output, "Flags")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}
