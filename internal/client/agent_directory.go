package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
)

// AgentDirectory resolves collaborator agent cards, preferring the remote
// agent's published card and falling back to a built-in one.
type AgentDirectory struct {
	remotes map[model.AgentKind]*A2AClient
	logger  *zap.Logger
}

func NewAgentDirectory(remotes map[model.AgentKind]*A2AClient, logger *zap.Logger) *AgentDirectory {
	return &AgentDirectory{remotes: remotes, logger: logger}
}

func (d *AgentDirectory) AgentCard(ctx context.Context, kind model.AgentKind) (model.AgentCard, error) {
	if remote, ok := d.remotes[kind]; ok && remote.IsConfigured() {
		card, err := remote.FetchCard(ctx)
		if err == nil {
			return card, nil
		}
		d.logger.Warn("failed to fetch agent card, using built-in card",
			zap.String("agent", string(kind)),
			zap.Error(err),
		)
	}
	return BuiltinCard(kind), nil
}

// BuiltinCard describes a collaborator when no remote card is reachable.
func BuiltinCard(kind model.AgentKind) model.AgentCard {
	card := model.AgentCard{
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text", "data"},
	}
	switch kind {
	case model.AgentSong:
		card.Name = "Song Agent"
		card.Description = "Writes lyrics and produces a full song from a prompt."
		card.DefaultOutputModes = []string{"text", "audio"}
		card.Skills = []model.AgentSkill{{ID: skillGenerateSong, Name: "Generate song", Description: "Lyrics, style and audio for a prompt."}}
	case model.AgentScript:
		card.Name = "Script Agent"
		card.Description = "Writes a music video script and extracts its characters, settings and scenes."
		card.Skills = []model.AgentSkill{
			{ID: skillGenerateScript, Name: "Generate script", Description: "Screenplay built around a song."},
			{ID: skillExtractScenes, Name: "Extract scenes", Description: "Timed scene list for a script."},
		}
	default:
		card.Name = "Media Agent"
		card.Description = "Renders reference images and animated video clips."
		card.DefaultOutputModes = []string{"image", "video"}
		card.Skills = []model.AgentSkill{
			{ID: skillGenerateImage, Name: "Generate image", Description: "Reference image of a character or setting."},
			{ID: skillGenerateClip, Name: "Generate video clip", Description: "Short clip for one scene."},
		}
	}
	return card
}
