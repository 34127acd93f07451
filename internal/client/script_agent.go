package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
)

const (
	skillGenerateScript    = "generate_script"
	skillExtractCharacters = "extract_characters"
	skillExtractSettings   = "extract_settings"
	skillExtractScenes     = "extract_scenes"
)

// ScriptAgent writes scripts and extracts characters, settings and scenes
// through a remote A2A script agent, falling back to a mock.
type ScriptAgent struct {
	remote *A2AClient
	logger *zap.Logger
}

func NewScriptAgent(remote *A2AClient, logger *zap.Logger) *ScriptAgent {
	return &ScriptAgent{remote: remote, logger: logger}
}

func (a *ScriptAgent) configured() bool {
	return a.remote != nil && a.remote.IsConfigured()
}

func (a *ScriptAgent) GenerateScript(ctx context.Context, song model.Song, direction string) (*model.Script, error) {
	if !a.configured() {
		return &model.Script{
			Title:    song.Title,
			Synopsis: direction,
			Text:     fmt.Sprintf("INT. STAGE - NIGHT\nA singer performs %q.\n%s", song.Title, direction),
		}, nil
	}

	input := map[string]any{"song": song, "direction": direction}
	var script model.Script
	if err := a.invoke(ctx, skillGenerateScript, "Write a music video script for "+song.Title, input, model.ArtifactScript, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

func (a *ScriptAgent) ExtractCharacters(ctx context.Context, script model.Script) ([]model.Character, error) {
	if !a.configured() {
		return []model.Character{{Name: "Singer", Description: "The lead performer"}}, nil
	}
	var out []model.Character
	if err := a.invoke(ctx, skillExtractCharacters, "Extract characters", script, model.ArtifactCharacters, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *ScriptAgent) ExtractSettings(ctx context.Context, script model.Script) ([]model.Setting, error) {
	if !a.configured() {
		return []model.Setting{{Name: "Stage", Description: "A dim stage under a single spotlight"}}, nil
	}
	var out []model.Setting
	if err := a.invoke(ctx, skillExtractSettings, "Extract settings", script, model.ArtifactSettings, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *ScriptAgent) ExtractScenes(ctx context.Context, script model.Script, song model.Song) ([]model.Scene, error) {
	if !a.configured() {
		return mockScenes(song), nil
	}
	input := map[string]any{"script": script, "song": song}
	var out []model.Scene
	if err := a.invoke(ctx, skillExtractScenes, "Extract scenes", input, model.ArtifactScenes, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *ScriptAgent) invoke(ctx context.Context, skill, text string, input any, artifact string, out any) error {
	task, err := a.remote.Invoke(ctx, skill, text, input)
	if err != nil {
		return err
	}
	if err := DecodeArtifact(task, artifact, out); err != nil {
		a.logger.Warn("script agent returned unexpected artifacts",
			zap.String("skill", skill),
			zap.Int("artifacts", len(task.Artifacts)),
		)
		return err
	}
	return nil
}

func mockScenes(song model.Song) []model.Scene {
	total := song.DurationSec
	if total <= 0 {
		total = 180
	}
	const n = 3
	per := total / n
	scenes := make([]model.Scene, n)
	for i := range scenes {
		scenes[i] = model.Scene{
			Index:       i,
			Description: fmt.Sprintf("Scene %d of %q", i+1, song.Title),
			Characters:  []string{"Singer"},
			Setting:     "Stage",
			StartSec:    float64(i) * per,
			DurationSec: per,
		}
	}
	return scenes
}
