package model

// Step is a position in the fixed orchestration sequence.
type Step string

const (
	StepGenerateSong          Step = "GENERATE_SONG"
	StepGenerateScript        Step = "GENERATE_SCRIPT_AND_EXTRACT_ENTITIES"
	StepGenerateImages        Step = "GENERATE_IMAGES"
	StepGenerateVideoClips    Step = "GENERATE_VIDEO_CLIPS"
	StepCompileAndUploadVideo Step = "COMPILE_AND_UPLOAD_VIDEO"
	StepCompleted             Step = "COMPLETED"
	StepFailed                Step = "FAILED"
)

// Pipeline is the ordered list of working steps followed by COMPLETED.
var Pipeline = []Step{
	StepGenerateSong,
	StepGenerateScript,
	StepGenerateImages,
	StepGenerateVideoClips,
	StepCompileAndUploadVideo,
	StepCompleted,
}

// Valid reports whether s is an enumerated step or terminal state.
func (s Step) Valid() bool {
	if s == StepFailed {
		return true
	}
	for _, p := range Pipeline {
		if p == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is COMPLETED or FAILED.
func (s Step) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Next returns the step after s. Terminal and unknown steps return themselves
// with ok=false.
func (s Step) Next() (Step, bool) {
	for i, p := range Pipeline {
		if p == s && i+1 < len(Pipeline) {
			return Pipeline[i+1], true
		}
	}
	return s, false
}

// Agent returns which collaborator's card describes the output of s.
func (s Step) Agent() AgentKind {
	switch s {
	case StepGenerateSong:
		return AgentSong
	case StepGenerateScript:
		return AgentScript
	default:
		return AgentMedia
	}
}
