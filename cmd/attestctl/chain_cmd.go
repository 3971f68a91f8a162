package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"attestd/pkg/capture"
)

func runMediaHash(args []string) int {
	fs := flag.NewFlagSet("media hash", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	fs.StringVar(&inPath, "in", "", "media file path")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "media hash requires --in")
		return 1
	}

	payload, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read media: %v\n", err)
		return 1
	}
	fmt.Println(capture.HashMedia(payload))
	return 0
}

func runChainBuild(args []string) int {
	fs := flag.NewFlagSet("chain build", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var framesPath string
	var outPath string
	fs.StringVar(&framesPath, "frames", "", "frames JSON path (array)")
	fs.StringVar(&outPath, "out", "", "output claim path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if framesPath == "" {
		fmt.Fprintln(os.Stderr, "chain build requires --frames")
		return 1
	}

	frames, err := readFrames(framesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	claim, err := capture.BuildChain(frames)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build chain: %v\n", err)
		return 1
	}
	payload, err := json.MarshalIndent(claim, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal claim: %v\n", err)
		return 1
	}
	if err := writeOutput(outPath, payload); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}

func runChainVerify(args []string) int {
	fs := flag.NewFlagSet("chain verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var framesPath string
	var claimPath string
	var partial bool
	fs.StringVar(&framesPath, "frames", "", "frames JSON path (array)")
	fs.StringVar(&claimPath, "claim", "", "claim JSON path")
	fs.BoolVar(&partial, "partial", false, "accept the longest checkpoint-verified prefix")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if framesPath == "" || claimPath == "" {
		fmt.Fprintln(os.Stderr, "chain verify requires --frames and --claim")
		return 1
	}

	frames, err := readFrames(framesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	claimBytes, err := os.ReadFile(claimPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read claim: %v\n", err)
		return 1
	}
	var claim capture.ChainClaim
	if err := json.Unmarshal(claimBytes, &claim); err != nil {
		fmt.Fprintf(os.Stderr, "decode claim: %v\n", err)
		return 1
	}

	verification, err := capture.VerifyChain(frames, claim, partial)
	if err != nil {
		fmt.Printf("status=fail error=%v\n", err)
		return 1
	}
	status := "full"
	if verification.IsPartial {
		status = "partial"
	}
	fmt.Printf("status=%s frames=%d duration_ms=%d checkpoint_index=%d\n",
		status, verification.FrameCount, verification.DurationMs, verification.CheckpointIndex)
	return 0
}

func readFrames(path string) ([]capture.FrameRecord, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	var frames []capture.FrameRecord
	if err := json.Unmarshal(payload, &frames); err != nil {
		return nil, fmt.Errorf("decode frames: %w", err)
	}
	return frames, nil
}
