package hashchain

// Verifier adapts the package-level chain checks to an injectable value.
type Verifier struct{}

func (Verifier) VerifyFull(frames []FrameInput, claimedFinalHash []byte, claimedCheckpoints []Checkpoint) (*Verification, error) {
	return VerifyFull(frames, claimedFinalHash, claimedCheckpoints)
}

func (Verifier) VerifyPartial(frames []FrameInput, claimedCheckpoints []Checkpoint) (*Verification, error) {
	return VerifyPartial(frames, claimedCheckpoints)
}
