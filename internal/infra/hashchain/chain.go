// Package hashchain implements the tamper-evident per-frame hash chain for
// video captures. The same formula produces the chain on-device and checks
// it here:
//
//	H(1) = SHA256(rgb_1 || depth_1 || ts_1)
//	H(n) = SHA256(rgb_n || depth_n || ts_n || H(n-1))
//
// Timestamps are hashed inputs, not metadata: a reordered timestamp breaks
// the chain even when frame content is untouched.
package hashchain

import (
	"crypto/sha256"
	"encoding/binary"

	"attestd/internal/domain"
)

const (
	// CheckpointInterval is the frame spacing between checkpoint hashes:
	// 150 frames is 5 seconds at 30 fps.
	CheckpointInterval = 150

	// MaxCheckpoints bounds the chain at 3 checkpoints, covering the
	// 15-second maximum capture.
	MaxCheckpoints = 3

	HashSize = sha256.Size
)

// FrameInput is the raw per-frame material. RGBHash is required; DepthHash
// is nil for sensorless devices. TimestampMs is milliseconds from recording
// start.
type FrameInput struct {
	RGBHash     []byte
	DepthHash   []byte
	TimestampMs int64
}

// Checkpoint is a periodically recorded chain hash. FrameNumber is 1-based.
type Checkpoint struct {
	Index       int
	FrameNumber int
	Hash        []byte
	TimestampMs int64
}

type chainPhase int

const (
	phaseEmpty chainPhase = iota
	phaseInProgress
	phaseFinalized
)

// Builder accumulates a chain one frame at a time. It is owned by exactly
// one caller per capture session; frame hashing is inherently sequential and
// must never be parallelized within a capture.
type Builder struct {
	phase       chainPhase
	lastHash    []byte
	frameCount  int
	lastTsMs    int64
	checkpoints []Checkpoint
}

// Summary is the finalized shape of a chain. Finalizing twice, or finalizing
// an empty builder, is an error rather than a representable state.
type Summary struct {
	FinalHash   []byte
	FrameCount  int
	DurationMs  int64
	Checkpoints []Checkpoint
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Append(frame FrameInput) error {
	if b.phase == phaseFinalized {
		return domain.ErrChainFinalized
	}
	if len(frame.RGBHash) == 0 {
		return domain.ErrInvalidRequest
	}
	b.lastHash = frameHash(b.lastHash, frame)
	b.frameCount++
	b.lastTsMs = frame.TimestampMs
	b.phase = phaseInProgress

	if b.frameCount%CheckpointInterval == 0 && len(b.checkpoints) < MaxCheckpoints {
		b.checkpoints = append(b.checkpoints, Checkpoint{
			Index:       len(b.checkpoints),
			FrameNumber: b.frameCount,
			Hash:        append([]byte(nil), b.lastHash...),
			TimestampMs: frame.TimestampMs,
		})
	}
	return nil
}

func (b *Builder) Finalize() (Summary, error) {
	switch b.phase {
	case phaseEmpty:
		return Summary{}, domain.ErrHashChainEmpty
	case phaseFinalized:
		return Summary{}, domain.ErrChainFinalized
	}
	b.phase = phaseFinalized
	return Summary{
		FinalHash:   append([]byte(nil), b.lastHash...),
		FrameCount:  b.frameCount,
		DurationMs:  b.lastTsMs,
		Checkpoints: b.checkpoints,
	}, nil
}

func frameHash(prev []byte, frame FrameInput) []byte {
	h := sha256.New()
	h.Write(frame.RGBHash)
	if len(frame.DepthHash) > 0 {
		h.Write(frame.DepthHash)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(frame.TimestampMs))
	h.Write(ts[:])
	if len(prev) > 0 {
		h.Write(prev)
	}
	return h.Sum(nil)
}
