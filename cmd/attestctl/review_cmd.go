package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"attestd/internal/domain"
	"attestd/internal/infra/policyopa"
)

func runReviewEval(args []string) int {
	fs := flag.NewFlagSet("review eval", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var bundlePath string
	var inputPath string
	fs.StringVar(&bundlePath, "bundle", "", "review bundle directory")
	fs.StringVar(&inputPath, "input", "", "review input JSON path")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if bundlePath == "" || inputPath == "" {
		fmt.Fprintln(os.Stderr, "review eval requires --bundle and --input")
		return 1
	}

	payload, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input: %v\n", err)
		return 1
	}
	var input domain.ReviewInput
	if err := json.Unmarshal(payload, &input); err != nil {
		fmt.Fprintf(os.Stderr, "decode input: %v\n", err)
		return 1
	}

	engine, err := policyopa.NewEngineFromBundlePath(context.Background(), bundlePath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load bundle: %v\n", err)
		return 1
	}
	evaluation, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %v\n", err)
		return 1
	}

	fmt.Printf("review=%t bundle_hash=%s\n", evaluation.Result.Review, evaluation.BundleHash)
	for _, reviewFlag := range evaluation.Result.Flags {
		fmt.Printf("flag=%s message=%s\n", reviewFlag.Code, reviewFlag.Message)
	}
	if evaluation.Result.Review {
		return 2
	}
	return 0
}

func runBundleHash(args []string) int {
	fs := flag.NewFlagSet("bundle hash", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var bundlePath string
	fs.StringVar(&bundlePath, "bundle", "", "review bundle directory")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if bundlePath == "" {
		fmt.Fprintln(os.Stderr, "bundle hash requires --bundle")
		return 1
	}

	hash, err := policyopa.ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash bundle: %v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}
