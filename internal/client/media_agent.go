package client

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
)

const (
	skillGenerateImage = "generate_image"
	skillGenerateClip  = "generate_video_clip"
)

// MediaAgent renders images and video clips through a remote A2A media agent.
type MediaAgent struct {
	remote *A2AClient
	logger *zap.Logger
}

func NewMediaAgent(remote *A2AClient, logger *zap.Logger) *MediaAgent {
	return &MediaAgent{remote: remote, logger: logger}
}

func (a *MediaAgent) configured() bool {
	return a.remote != nil && a.remote.IsConfigured()
}

func (a *MediaAgent) GenerateImage(ctx context.Context, req model.ImageRequest) (*model.Image, error) {
	if !a.configured() {
		return &model.Image{
			Subject: req.Subject,
			Name:    req.Name,
			URL:     fmt.Sprintf("https://example.com/mock/%s/%s.png", req.Subject, url.PathEscape(req.Name)),
		}, nil
	}

	task, err := a.remote.Invoke(ctx, skillGenerateImage, req.Description, req)
	if err != nil {
		return nil, err
	}
	uri, err := firstFileURI(task)
	if err != nil {
		return nil, err
	}
	return &model.Image{Subject: req.Subject, Name: req.Name, URL: uri}, nil
}

func (a *MediaAgent) GenerateClip(ctx context.Context, req model.ClipRequest) (*model.Clip, error) {
	if !a.configured() {
		return &model.Clip{
			SceneIndex:  req.Scene.Index,
			URL:         fmt.Sprintf("https://example.com/mock/clips/%d.mp4", req.Scene.Index),
			DurationSec: req.Scene.DurationSec,
		}, nil
	}

	task, err := a.remote.Invoke(ctx, skillGenerateClip, req.Scene.Description, req)
	if err != nil {
		return nil, err
	}
	uri, err := firstFileURI(task)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("clip generated", zap.Int("scene", req.Scene.Index), zap.String("url", uri))
	return &model.Clip{SceneIndex: req.Scene.Index, URL: uri, DurationSec: req.Scene.DurationSec}, nil
}

func firstFileURI(task *model.Task) (string, error) {
	for _, a := range task.Artifacts {
		for _, p := range a.Parts {
			if p.Kind == model.PartKindFile && p.File != nil && p.File.URI != "" {
				return p.File.URI, nil
			}
		}
	}
	return "", fmt.Errorf("remote task %s returned no file artifact", task.ID)
}
