package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videoagent/internal/model"
)

const agentVersion = "1.0.0"

// AgentCard describes this orchestrator to other agents
func AgentCard(publicURL string) model.AgentCard {
	return model.AgentCard{
		Name:        "Music Video Orchestrator",
		Description: "Turns a prompt into a finished music video: song, script, images, clips and the final cut, pausing for review after each step.",
		URL:         publicURL,
		Version:     agentVersion,
		Capabilities: model.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      true,
			StateTransitionHistory: true,
		},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text", "audio", "image", "video"},
		Skills: []model.AgentSkill{{
			ID:          "create_music_video",
			Name:        "Create music video",
			Description: "Generates a song from a prompt and builds a video around it, asking for feedback after each step.",
			Tags:        []string{"music", "video", "orchestration"},
			Examples:    []string{"A cyberpunk rap anthem about AI collaboration"},
		}},
	}
}

// AgentCardHandler handles GET /.well-known/agent.json
func AgentCardHandler(card model.AgentCard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(card)
	}
}
