package client

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
)

const skillGenerateSong = "generate_song"

// SongAgent generates songs through a remote A2A song agent. Without a remote
// it returns a deterministic placeholder song.
type SongAgent struct {
	remote *A2AClient
	logger *zap.Logger
}

func NewSongAgent(remote *A2AClient, logger *zap.Logger) *SongAgent {
	return &SongAgent{remote: remote, logger: logger}
}

func (a *SongAgent) GenerateSong(ctx context.Context, prompt string) (*model.Song, error) {
	if a.remote == nil || !a.remote.IsConfigured() {
		a.logger.Debug("song agent not configured, using mock")
		return mockSong(prompt), nil
	}

	task, err := a.remote.Invoke(ctx, skillGenerateSong, prompt, map[string]string{"prompt": prompt})
	if err != nil {
		return nil, err
	}

	var song model.Song
	if err := DecodeArtifact(task, model.ArtifactSong, &song); err != nil {
		return nil, err
	}
	if song.AudioURL == "" {
		return nil, fmt.Errorf("song agent returned no audio url")
	}
	return &song, nil
}

func mockSong(prompt string) *model.Song {
	title := strings.TrimSpace(prompt)
	if len(title) > 40 {
		title = title[:40]
	}
	return &model.Song{
		Title:       title,
		Lyrics:      fmt.Sprintf("[Verse]\n%s\n\n[Chorus]\n%s", prompt, title),
		Style:       "pop",
		AudioURL:    "https://example.com/mock/song.mp3",
		DurationSec: 180,
	}
}
