package domain

// SignalStatus is the three-way grade of one evidence section. Unavailable
// means the signal's prerequisite is structurally absent (no sensor, no
// platform support); it is never interchangeable with Fail.
type SignalStatus string

const (
	SignalPass        SignalStatus = "pass"
	SignalFail        SignalStatus = "fail"
	SignalUnavailable SignalStatus = "unavailable"
)

func (s SignalStatus) Valid() bool {
	switch s {
	case SignalPass, SignalFail, SignalUnavailable:
		return true
	}
	return false
}

type HardwareAttestationEvidence struct {
	Status      SignalStatus     `json:"status"`
	Level       AttestationLevel `json:"level,omitempty"`
	DeviceModel string           `json:"device_model,omitempty"`
	KeyID       string           `json:"key_id,omitempty"`
}

type DepthAnalysisEvidence struct {
	Status            SignalStatus `json:"status"`
	DepthVariance     float64      `json:"depth_variance,omitempty"`
	DepthLayers       int          `json:"depth_layers,omitempty"`
	EdgeCoherence     float64      `json:"edge_coherence,omitempty"`
	IsLikelyRealScene bool         `json:"is_likely_real_scene"`
}

type MetadataEvidence struct {
	Status                SignalStatus `json:"status"`
	TimestampValid        bool         `json:"timestamp_valid"`
	TimestampDeltaSeconds float64      `json:"timestamp_delta_seconds"`
	ModelValid            bool         `json:"model_valid"`
	ModelHasDepthSensor   bool         `json:"model_has_depth_sensor"`
}

type SupportingDetectorEvidence struct {
	Status          SignalStatus `json:"status"`
	MoireScore      float64      `json:"moire_score,omitempty"`
	TextureScore    float64      `json:"texture_score,omitempty"`
	ArtifactScore   float64      `json:"artifact_score,omitempty"`
	ScreenSuspected bool         `json:"screen_suspected,omitempty"`
}

// Evidence is the fixed-shape record the aggregator consumes. Sections are
// pointers so that "missing entirely" stays distinct from "unavailable":
// a nil required section is fatal for confidence computation.
type Evidence struct {
	HardwareAttestation *HardwareAttestationEvidence `json:"hardware_attestation,omitempty"`
	DepthAnalysis       *DepthAnalysisEvidence       `json:"depth_analysis,omitempty"`
	Metadata            *MetadataEvidence            `json:"metadata,omitempty"`
	SupportingDetectors *SupportingDetectorEvidence  `json:"supporting_detectors,omitempty"`
}
