package model

// OrchestrationProgress is what the engine reports through its I/O port.
// It is independent of any wire message shape.
type OrchestrationProgress struct {
	State     TaskState  `json:"state"`
	Text      string     `json:"text"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
}

// StepMetadata builds the metadata patch carried by every step progress.
func StepMetadata(step Step, stepInput string) *Metadata {
	return &Metadata{CurrentStep: step, StepInput: stepInput}
}
