package orchestrator

import (
	"context"

	"github.com/makeasinger/videoagent/internal/model"
)

// CardResolver returns the agent card describing a collaborator.
type CardResolver interface {
	AgentCard(ctx context.Context, kind model.AgentKind) (model.AgentCard, error)
}

type SongGenerator interface {
	GenerateSong(ctx context.Context, prompt string) (*model.Song, error)
}

type ScriptGenerator interface {
	GenerateScript(ctx context.Context, song model.Song, direction string) (*model.Script, error)
}

// EntityExtractor pulls structured entities out of a script. The three calls
// are independent and run concurrently.
type EntityExtractor interface {
	ExtractCharacters(ctx context.Context, script model.Script) ([]model.Character, error)
	ExtractSettings(ctx context.Context, script model.Script) ([]model.Setting, error)
	ExtractScenes(ctx context.Context, script model.Script, song model.Song) ([]model.Scene, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req model.ImageRequest) (*model.Image, error)
}

type ClipGenerator interface {
	GenerateClip(ctx context.Context, req model.ClipRequest) (*model.Clip, error)
}

type VideoCompiler interface {
	Compile(ctx context.Context, req model.CompileRequest) (*model.CompiledVideo, error)
}

// Uploader moves a compiled video to public storage.
type Uploader interface {
	UploadVideo(ctx context.Context, taskID string, video model.CompiledVideo) (*model.UploadedVideo, error)
}

// Interpreter turns a free-text comment into a structured decision.
type Interpreter interface {
	Interpret(ctx context.Context, req model.FeedbackRequest) (*model.FeedbackDecision, error)
}

// Collaborators bundles every external service the engine calls.
type Collaborators struct {
	Cards       CardResolver
	Songs       SongGenerator
	Scripts     ScriptGenerator
	Entities    EntityExtractor
	Images      ImageGenerator
	Clips       ClipGenerator
	Compiler    VideoCompiler
	Uploader    Uploader
	Interpreter Interpreter
}
