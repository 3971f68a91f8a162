// Package capture holds the client-side helpers a capture app needs to
// prepare an upload: hashing media, building the per-frame hash chain, and
// re-verifying a chain claim before submission.
package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"attestd/internal/infra/hashchain"
)

// HashMedia computes the target media hash for an encoded photo or video.
func HashMedia(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// FrameRecord is the wire shape of one frame's hash material.
type FrameRecord struct {
	RGBHash     string `json:"rgb_hash"`
	DepthHash   string `json:"depth_hash,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type CheckpointRecord struct {
	Index       int    `json:"index"`
	FrameNumber int    `json:"frame_number"`
	Hash        string `json:"hash"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// ChainClaim is what the capture app asserts about a recorded video: the
// final chain hash plus the periodic checkpoints that allow partial
// acceptance when the tail is lost.
type ChainClaim struct {
	FinalHash   string             `json:"final_hash"`
	FrameCount  int                `json:"frame_count"`
	DurationMs  int64              `json:"duration_ms"`
	Checkpoints []CheckpointRecord `json:"checkpoints,omitempty"`
	IsPartial   bool               `json:"is_partial,omitempty"`
}

// BuildChain folds the frames into a hash chain and returns the claim the
// app should submit alongside the video.
func BuildChain(frames []FrameRecord) (ChainClaim, error) {
	inputs, err := DecodeFrames(frames)
	if err != nil {
		return ChainClaim{}, err
	}
	builder := hashchain.NewBuilder()
	for _, frame := range inputs {
		if err := builder.Append(frame); err != nil {
			return ChainClaim{}, err
		}
	}
	summary, err := builder.Finalize()
	if err != nil {
		return ChainClaim{}, err
	}
	return claimFromSummary(summary), nil
}

// VerifyChain replays the claim against raw frame material the way the
// server will, so a client can catch corruption before uploading.
func VerifyChain(frames []FrameRecord, claim ChainClaim, partial bool) (*hashchain.Verification, error) {
	inputs, err := DecodeFrames(frames)
	if err != nil {
		return nil, err
	}
	checkpoints, err := decodeCheckpoints(claim.Checkpoints)
	if err != nil {
		return nil, err
	}
	if partial {
		return hashchain.VerifyPartial(inputs, checkpoints)
	}
	finalHash, err := hex.DecodeString(claim.FinalHash)
	if err != nil {
		return nil, errors.New("invalid final hash encoding")
	}
	return hashchain.VerifyFull(inputs, finalHash, checkpoints)
}

func DecodeFrames(frames []FrameRecord) ([]hashchain.FrameInput, error) {
	out := make([]hashchain.FrameInput, 0, len(frames))
	for i, frame := range frames {
		rgb, err := hex.DecodeString(frame.RGBHash)
		if err != nil {
			return nil, fmt.Errorf("frame %d: invalid rgb hash encoding", i+1)
		}
		var depth []byte
		if frame.DepthHash != "" {
			depth, err = hex.DecodeString(frame.DepthHash)
			if err != nil {
				return nil, fmt.Errorf("frame %d: invalid depth hash encoding", i+1)
			}
		}
		out = append(out, hashchain.FrameInput{
			RGBHash:     rgb,
			DepthHash:   depth,
			TimestampMs: frame.TimestampMs,
		})
	}
	return out, nil
}

func claimFromSummary(summary hashchain.Summary) ChainClaim {
	checkpoints := make([]CheckpointRecord, 0, len(summary.Checkpoints))
	for _, cp := range summary.Checkpoints {
		checkpoints = append(checkpoints, CheckpointRecord{
			Index:       cp.Index,
			FrameNumber: cp.FrameNumber,
			Hash:        hex.EncodeToString(cp.Hash),
			TimestampMs: cp.TimestampMs,
		})
	}
	return ChainClaim{
		FinalHash:   hex.EncodeToString(summary.FinalHash),
		FrameCount:  summary.FrameCount,
		DurationMs:  summary.DurationMs,
		Checkpoints: checkpoints,
	}
}

func decodeCheckpoints(records []CheckpointRecord) ([]hashchain.Checkpoint, error) {
	out := make([]hashchain.Checkpoint, 0, len(records))
	for _, record := range records {
		hash, err := hex.DecodeString(record.Hash)
		if err != nil {
			return nil, errors.New("invalid checkpoint hash encoding")
		}
		out = append(out, hashchain.Checkpoint{
			Index:       record.Index,
			FrameNumber: record.FrameNumber,
			Hash:        hash,
			TimestampMs: record.TimestampMs,
		})
	}
	return out, nil
}
