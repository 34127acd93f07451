package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/port"
	"github.com/makeasinger/videoagent/internal/queue"
)

func (e *Engine) generateSong(ctx context.Context, t *model.Task, io port.IO, input string) error {
	const step = model.StepGenerateSong
	if strings.TrimSpace(input) == "" {
		return queue.Permanent(fmt.Errorf("%s: %w", step, ErrNoUserInput))
	}

	if err := e.emitWorking(ctx, t, io, step, input, "Generating your song..."); err != nil {
		return err
	}

	card, err := e.c.Cards.AgentCard(ctx, model.AgentSong)
	if err != nil {
		return stepErr(step, "resolve song agent card", err)
	}
	song, err := e.c.Songs.GenerateSong(ctx, input)
	if err != nil {
		return stepErr(step, "generate song", err)
	}

	a, err := dataArtifact(model.ArtifactSong, "Generated song", song, card.Name)
	if err != nil {
		return stepErr(step, "build artifact", err)
	}
	if song.AudioURL != "" {
		a.Parts = append([]model.Part{model.FilePart(song.AudioURL, "audio/mpeg", song.Title+".mp3")}, a.Parts...)
	}
	if song.Lyrics != "" {
		a.Parts = append(a.Parts, model.TextPart(song.Lyrics))
	}

	return e.emitInputRequired(ctx, t, io, step, input,
		fmt.Sprintf("Your song %q is ready. Reply to accept it, or tell me what to change.", song.Title),
		a,
	)
}

func (e *Engine) generateScript(ctx context.Context, t *model.Task, io port.IO, input string) error {
	const step = model.StepGenerateScript

	var song model.Song
	if err := artifactData(t, model.ArtifactSong, &song); err != nil {
		return queue.Permanent(stepErr(step, "load song", err))
	}
	if err := e.emitWorking(ctx, t, io, step, input, "Writing the script and extracting characters, settings and scenes..."); err != nil {
		return err
	}

	card, err := e.c.Cards.AgentCard(ctx, model.AgentScript)
	if err != nil {
		return stepErr(step, "resolve script agent card", err)
	}
	script, err := e.c.Scripts.GenerateScript(ctx, song, input)
	if err != nil {
		return stepErr(step, "generate script", err)
	}

	var (
		characters []model.Character
		settings   []model.Setting
		scenes     []model.Scene
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		characters, err = e.c.Entities.ExtractCharacters(gctx, *script)
		return err
	})
	g.Go(func() error {
		var err error
		settings, err = e.c.Entities.ExtractSettings(gctx, *script)
		return err
	})
	g.Go(func() error {
		var err error
		scenes, err = e.c.Entities.ExtractScenes(gctx, *script, song)
		return err
	})
	if err := g.Wait(); err != nil {
		return stepErr(step, "extract entities", err)
	}

	artifacts := make([]model.Artifact, 0, 4)
	for _, item := range []struct {
		name, desc string
		v          any
	}{
		{model.ArtifactScript, "Video script", script},
		{model.ArtifactCharacters, "Characters", characters},
		{model.ArtifactSettings, "Settings", settings},
		{model.ArtifactScenes, "Scenes", scenes},
	} {
		a, err := dataArtifact(item.name, item.desc, item.v, card.Name)
		if err != nil {
			return stepErr(step, "build artifact", err)
		}
		artifacts = append(artifacts, a)
	}
	artifacts[0].Parts = append(artifacts[0].Parts, model.TextPart(script.Text))

	return e.emitInputRequired(ctx, t, io, step, input,
		fmt.Sprintf("Script %q is ready with %d characters, %d settings and %d scenes. Reply to accept it, or tell me what to change.",
			script.Title, len(characters), len(settings), len(scenes)),
		artifacts...,
	)
}

func (e *Engine) generateImages(ctx context.Context, t *model.Task, io port.IO, input string) error {
	const step = model.StepGenerateImages

	var (
		characters []model.Character
		settings   []model.Setting
	)
	if err := artifactData(t, model.ArtifactCharacters, &characters); err != nil {
		return queue.Permanent(stepErr(step, "load characters", err))
	}
	if err := artifactData(t, model.ArtifactSettings, &settings); err != nil {
		return queue.Permanent(stepErr(step, "load settings", err))
	}
	if err := e.emitWorking(ctx, t, io, step, input,
		fmt.Sprintf("Generating %d images...", len(characters)+len(settings))); err != nil {
		return err
	}

	card, err := e.c.Cards.AgentCard(ctx, model.AgentMedia)
	if err != nil {
		return stepErr(step, "resolve media agent card", err)
	}

	reqs := make([]model.ImageRequest, 0, len(characters)+len(settings))
	for _, c := range characters {
		reqs = append(reqs, model.ImageRequest{Subject: model.ImageSubjectCharacter, Name: c.Name, Description: c.Description})
	}
	for _, s := range settings {
		reqs = append(reqs, model.ImageRequest{Subject: model.ImageSubjectSetting, Name: s.Name, Description: s.Description})
	}
	style := e.style(input)

	images := make([]model.Image, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ImageConcurrency)
	for i, req := range reqs {
		i, req := i, req
		req.Style = style
		g.Go(func() error {
			img, err := e.c.Images.GenerateImage(gctx, req)
			if err != nil {
				return fmt.Errorf("%s %q: %w", req.Subject, req.Name, err)
			}
			images[i] = *img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stepErr(step, "generate images", err)
	}

	a, err := dataArtifact(model.ArtifactImages, "Character and setting images", images, card.Name)
	if err != nil {
		return stepErr(step, "build artifact", err)
	}
	for _, img := range images {
		a.Parts = append(a.Parts, model.FilePart(img.URL, "image/png", img.Name))
	}

	return e.emitInputRequired(ctx, t, io, step, input,
		fmt.Sprintf("Generated %d images. Reply to accept them, or tell me what to change.", len(images)),
		a,
	)
}

func (e *Engine) generateClips(ctx context.Context, t *model.Task, io port.IO, input string) error {
	const step = model.StepGenerateVideoClips

	var (
		scenes []model.Scene
		images []model.Image
	)
	if err := artifactData(t, model.ArtifactScenes, &scenes); err != nil {
		return queue.Permanent(stepErr(step, "load scenes", err))
	}
	if err := artifactData(t, model.ArtifactImages, &images); err != nil {
		return queue.Permanent(stepErr(step, "load images", err))
	}
	if err := e.emitWorking(ctx, t, io, step, input,
		fmt.Sprintf("Generating %d video clips...", len(scenes))); err != nil {
		return err
	}

	card, err := e.c.Cards.AgentCard(ctx, model.AgentMedia)
	if err != nil {
		return stepErr(step, "resolve media agent card", err)
	}

	byName := make(map[string]string, len(images))
	for _, img := range images {
		byName[img.Name] = img.URL
	}
	style := e.style(input)

	clips := make([]model.Clip, len(scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ClipConcurrency)
	for i, scene := range scenes {
		i, scene := i, scene
		req := model.ClipRequest{Scene: scene, ImageURLs: sceneImages(scene, byName), Style: style}
		g.Go(func() error {
			clip, err := e.c.Clips.GenerateClip(gctx, req)
			if err != nil {
				return fmt.Errorf("scene %d: %w", scene.Index, err)
			}
			clips[i] = *clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stepErr(step, "generate clips", err)
	}

	a, err := dataArtifact(model.ArtifactVideoClips, "Video clips, one per scene", clips, card.Name)
	if err != nil {
		return stepErr(step, "build artifact", err)
	}
	for _, c := range clips {
		a.Parts = append(a.Parts, model.FilePart(c.URL, "video/mp4", fmt.Sprintf("scene-%d.mp4", c.SceneIndex)))
	}

	return e.emitInputRequired(ctx, t, io, step, input,
		fmt.Sprintf("Generated %d video clips. Reply to accept them, or tell me what to change.", len(clips)),
		a,
	)
}

func (e *Engine) compileAndUpload(ctx context.Context, t *model.Task, io port.IO, input string) error {
	const step = model.StepCompileAndUploadVideo

	var (
		song  model.Song
		clips []model.Clip
	)
	if err := artifactData(t, model.ArtifactSong, &song); err != nil {
		return queue.Permanent(stepErr(step, "load song", err))
	}
	if err := artifactData(t, model.ArtifactVideoClips, &clips); err != nil {
		return queue.Permanent(stepErr(step, "load clips", err))
	}
	if err := e.emitWorking(ctx, t, io, step, input, "Compiling and uploading the final video..."); err != nil {
		return err
	}

	card, err := e.c.Cards.AgentCard(ctx, model.AgentMedia)
	if err != nil {
		return stepErr(step, "resolve media agent card", err)
	}

	sort.SliceStable(clips, func(i, j int) bool { return clips[i].SceneIndex < clips[j].SceneIndex })
	compiled, err := e.c.Compiler.Compile(ctx, model.CompileRequest{TaskID: t.ID, AudioURL: song.AudioURL, Clips: clips})
	if err != nil {
		return stepErr(step, "compile video", err)
	}
	uploaded, err := e.c.Uploader.UploadVideo(ctx, t.ID, *compiled)
	if err != nil {
		return stepErr(step, "upload video", err)
	}

	a, err := dataArtifact(model.ArtifactFinalVideo, "Final music video", uploaded, card.Name)
	if err != nil {
		return stepErr(step, "build artifact", err)
	}
	a.Parts = append([]model.Part{model.FilePart(uploaded.URL, uploaded.MimeType, "music-video.mp4")}, a.Parts...)

	return e.emitInputRequired(ctx, t, io, step, input,
		fmt.Sprintf("Your music video is ready: %s. Reply to finish, or tell me what to change.", uploaded.URL),
		a,
	)
}

func (e *Engine) emitWorking(ctx context.Context, t *model.Task, io port.IO, step model.Step, input, text string) error {
	return e.emit(ctx, t, io, model.OrchestrationProgress{
		State:    model.TaskStateWorking,
		Text:     text,
		Metadata: model.StepMetadata(step, input),
	})
}

func (e *Engine) emitInputRequired(ctx context.Context, t *model.Task, io port.IO, step model.Step, input, text string, artifacts ...model.Artifact) error {
	return e.emit(ctx, t, io, model.OrchestrationProgress{
		State:     model.TaskStateInputRequired,
		Text:      text,
		Artifacts: artifacts,
		Metadata:  model.StepMetadata(step, input),
	})
}

// style combines the configured look with any direction the user gave.
func (e *Engine) style(input string) string {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return e.cfg.VideoStyle
	case e.cfg.VideoStyle == "":
		return input
	}
	return e.cfg.VideoStyle + ", " + input
}

func sceneImages(scene model.Scene, byName map[string]string) []string {
	var urls []string
	for _, name := range append(append([]string{}, scene.Characters...), scene.Setting) {
		if u, ok := byName[name]; ok && u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// dataArtifact builds an artifact whose first data part holds v.
func dataArtifact(name, desc string, v any, agent string) (model.Artifact, error) {
	part, err := model.DataPart(v)
	if err != nil {
		return model.Artifact{}, err
	}
	a := model.Artifact{
		Name:        name,
		Description: desc,
		Parts:       []model.Part{part},
	}
	if agent != "" {
		a.Metadata = map[string]any{"agent": agent}
	}
	return a, nil
}

// artifactData decodes the data part of the named artifact into v.
func artifactData(t *model.Task, name string, v any) error {
	a, ok := t.Artifact(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingArtifact, name)
	}
	return decodeArtifact(a, v)
}

func decodeArtifact(a *model.Artifact, v any) error {
	for _, p := range a.Parts {
		if p.Kind == model.PartKindData {
			return p.Decode(v)
		}
	}
	return fmt.Errorf("%w: %s has no data part", ErrMissingArtifact, a.Name)
}
