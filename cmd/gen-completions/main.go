// Command gen-completions generates shell completion scripts for all
// supported shells (bash, zsh, fish, powershell) and writes them to an
// output directory.
//
// Usage:
//
//	go run ./cmd/gen-completions [output-dir]
//
// The default output directory is "completions".
//
// Grounded on Raven's scripts/gen-completions/main.go: same entry-table
// shape, narrowed to anvilctl's single binary name.
package main

import (
	"fmt"
	"os"

	"github.com/anvil-build/anvil/internal/cli"
)

func main() {
	outDir := "completions"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir %q: %v\n", outDir, err)
		os.Exit(1)
	}

	rootCmd := cli.NewRootCmd()

	type completionEntry struct {
		filename string
		generate func(f *os.File) error
	}

	entries := []completionEntry{
		{
			filename: outDir + "/anvilctl.bash",
			generate: func(f *os.File) error { return rootCmd.GenBashCompletionV2(f, true) },
		},
		{
			filename: outDir + "/_anvilctl",
			generate: func(f *os.File) error { return rootCmd.GenZshCompletion(f) },
		},
		{
			filename: outDir + "/anvilctl.fish",
			generate: func(f *os.File) error { return rootCmd.GenFishCompletion(f, true) },
		},
		{
			filename: outDir + "/anvilctl.ps1",
			generate: func(f *os.File) error { return rootCmd.GenPowerShellCompletionWithDesc(f) },
		},
	}

	for _, e := range entries {
		f, err := os.Create(e.filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating %q: %v\n", e.filename, err)
			os.Exit(1)
		}
		if err := e.generate(f); err != nil {
			f.Close()
			fmt.Fprintf(os.Stderr, "error generating completion for %q: %v\n", e.filename, err)
			os.Exit(1)
		}
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing %q: %v\n", e.filename, err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", e.filename)
	}

	fmt.Printf("All completions written to %s/\n", outDir)
}
