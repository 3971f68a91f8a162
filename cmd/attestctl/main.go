package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "media":
		if len(args) >= 3 && args[2] == "hash" {
			return runMediaHash(args[3:])
		}
	case "chain":
		if len(args) >= 3 {
			switch args[2] {
			case "build":
				return runChainBuild(args[3:])
			case "verify":
				return runChainVerify(args[3:])
			}
		}
	case "review":
		if len(args) >= 3 && args[2] == "eval" {
			return runReviewEval(args[3:])
		}
	case "bundle":
		if len(args) >= 3 && args[2] == "hash" {
			return runBundleHash(args[3:])
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "attestctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s media hash --in <file>\n", name)
	fmt.Fprintf(os.Stderr, "  %s chain build --frames <frames.json> [--out <claim.json>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s chain verify --frames <frames.json> --claim <claim.json> [--partial]\n", name)
	fmt.Fprintf(os.Stderr, "  %s review eval --bundle <dir> --input <input.json>\n", name)
	fmt.Fprintf(os.Stderr, "  %s bundle hash --bundle <dir>\n", name)
}

func writeOutput(path string, payload []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(append(payload, '\n'))
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}
