package model

// Artifact names, in the order steps produce them
const (
	ArtifactSong       = "song"
	ArtifactScript     = "script"
	ArtifactCharacters = "characters"
	ArtifactSettings   = "settings"
	ArtifactScenes     = "scenes"
	ArtifactImages     = "images"
	ArtifactVideoClips = "video_clips"
	ArtifactFinalVideo = "final_video"
)

// Song is the song collaborator's result
type Song struct {
	Title       string  `json:"title"`
	Lyrics      string  `json:"lyrics"`
	Style       string  `json:"style,omitempty"`
	AudioURL    string  `json:"audioUrl"`
	DurationSec float64 `json:"durationSec,omitempty"`
}

// Script is the screenplay built around an accepted song
type Script struct {
	Title    string `json:"title"`
	Synopsis string `json:"synopsis,omitempty"`
	Text     string `json:"text"`
}

type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Setting struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Scene is one shot of the video, timed against the song
type Scene struct {
	Index       int      `json:"index"`
	Description string   `json:"description"`
	Characters  []string `json:"characters,omitempty"`
	Setting     string   `json:"setting,omitempty"`
	StartSec    float64  `json:"startSec"`
	DurationSec float64  `json:"durationSec"`
}

// ImageSubject says what a generated image depicts
type ImageSubject string

const (
	ImageSubjectCharacter ImageSubject = "character"
	ImageSubjectSetting   ImageSubject = "setting"
)

type ImageRequest struct {
	Subject     ImageSubject `json:"subject"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Style       string       `json:"style,omitempty"`
}

type Image struct {
	Subject ImageSubject `json:"subject"`
	Name    string       `json:"name"`
	URL     string       `json:"url"`
}

type ClipRequest struct {
	Scene     Scene    `json:"scene"`
	ImageURLs []string `json:"imageUrls"`
	Style     string   `json:"style,omitempty"`
}

type Clip struct {
	SceneIndex  int     `json:"sceneIndex"`
	URL         string  `json:"url"`
	DurationSec float64 `json:"durationSec"`
}

// CompileRequest asks the compiler to join clips over the song audio
type CompileRequest struct {
	TaskID   string `json:"taskId"`
	AudioURL string `json:"audioUrl"`
	Clips    []Clip `json:"clips"`
}

type CompiledVideo struct {
	URL         string  `json:"url"`
	MimeType    string  `json:"mimeType"`
	DurationSec float64 `json:"durationSec,omitempty"`
}

// UploadedVideo is the final, publicly reachable video
type UploadedVideo struct {
	URL      string `json:"url"`
	Key      string `json:"key,omitempty"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size,omitempty"`
}
