package hashchain

import (
	"bytes"

	"attestd/internal/domain"
)

// Verification is the accepted bound of a chain check. For a full
// verification CheckpointIndex is -1 and FrameCount/DurationMs cover the
// whole recording; for a partial one they stop at the highest matching
// checkpoint and frames beyond it are unverified.
type Verification struct {
	FinalHash       []byte
	FrameCount      int
	DurationMs      int64
	IsPartial       bool
	CheckpointIndex int
	Checkpoints     []Checkpoint
}

// VerifyFull recomputes the entire chain from raw frame inputs and accepts
// only an exact match of the claimed final hash and every supplied claimed
// checkpoint.
func VerifyFull(frames []FrameInput, claimedFinalHash []byte, claimedCheckpoints []Checkpoint) (*Verification, error) {
	summary, err := recompute(frames)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(summary.FinalHash, claimedFinalHash) {
		return nil, domain.ErrHashChainBroken
	}
	for _, claimed := range claimedCheckpoints {
		matched, ok := checkpointAt(summary.Checkpoints, claimed.Index)
		if !ok || matched.FrameNumber != claimed.FrameNumber || !bytes.Equal(matched.Hash, claimed.Hash) {
			return nil, domain.ErrHashChainBroken
		}
	}
	return &Verification{
		FinalHash:       summary.FinalHash,
		FrameCount:      summary.FrameCount,
		DurationMs:      summary.DurationMs,
		IsPartial:       false,
		CheckpointIndex: -1,
		Checkpoints:     summary.Checkpoints,
	}, nil
}

// VerifyPartial accepts an interrupted recording up to the highest claimed
// checkpoint whose hash matches the recomputed chain. Frames beyond that
// boundary stay unverified and contribute nothing to the accepted frame
// count or duration. No matching checkpoint fails the chain outright.
func VerifyPartial(frames []FrameInput, claimedCheckpoints []Checkpoint) (*Verification, error) {
	summary, err := recompute(frames)
	if err != nil {
		return nil, err
	}
	for i := len(claimedCheckpoints) - 1; i >= 0; i-- {
		claimed := claimedCheckpoints[i]
		matched, ok := checkpointAt(summary.Checkpoints, claimed.Index)
		if !ok || matched.FrameNumber != claimed.FrameNumber {
			continue
		}
		if !bytes.Equal(matched.Hash, claimed.Hash) {
			continue
		}
		return &Verification{
			FinalHash:       append([]byte(nil), matched.Hash...),
			FrameCount:      matched.FrameNumber,
			DurationMs:      matched.TimestampMs,
			IsPartial:       true,
			CheckpointIndex: matched.Index,
			Checkpoints:     summary.Checkpoints[:matched.Index+1],
		}, nil
	}
	return nil, domain.ErrHashChainBroken
}

func recompute(frames []FrameInput) (Summary, error) {
	if len(frames) == 0 {
		return Summary{}, domain.ErrHashChainEmpty
	}
	builder := NewBuilder()
	for _, frame := range frames {
		if err := builder.Append(frame); err != nil {
			return Summary{}, err
		}
	}
	return builder.Finalize()
}

func checkpointAt(checkpoints []Checkpoint, index int) (Checkpoint, bool) {
	if index < 0 || index >= len(checkpoints) {
		return Checkpoint{}, false
	}
	return checkpoints[index], true
}
