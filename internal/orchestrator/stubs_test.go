package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/makeasinger/videoagent/internal/model"
)

type stubCards struct{}

func (stubCards) AgentCard(_ context.Context, kind model.AgentKind) (model.AgentCard, error) {
	return model.AgentCard{Name: string(kind) + "-agent", URL: "http://" + string(kind)}, nil
}

type stubSongs struct {
	calls   atomic.Int32
	prompts []string
	mu      sync.Mutex
	err     error
}

func (s *stubSongs) GenerateSong(_ context.Context, prompt string) (*model.Song, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &model.Song{Title: "Neon Minds", Lyrics: "we code the night", AudioURL: "https://cdn/song.mp3", DurationSec: 120}, nil
}

func (s *stubSongs) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

type stubScripts struct {
	calls      atomic.Int32
	mu         sync.Mutex
	directions []string
}

func (s *stubScripts) GenerateScript(_ context.Context, song model.Song, direction string) (*model.Script, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.directions = append(s.directions, direction)
	s.mu.Unlock()
	return &model.Script{Title: song.Title + " (video)", Text: "INT. SERVER ROOM - NIGHT " + direction}, nil
}

// stubEntities blocks each extraction until all three have started, so a
// sequential caller times out.
type stubEntities struct {
	arrived sync.WaitGroup
	calls   atomic.Int32
}

func newStubEntities() *stubEntities {
	e := &stubEntities{}
	e.arrived.Add(3)
	return e
}

func (e *stubEntities) rendezvous(ctx context.Context) error {
	if e.calls.Add(1) > 3 {
		return nil
	}
	e.arrived.Done()
	done := make(chan struct{})
	go func() {
		e.arrived.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(time.Second):
		return errors.New("extractions did not run concurrently")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *stubEntities) ExtractCharacters(ctx context.Context, _ model.Script) ([]model.Character, error) {
	if err := e.rendezvous(ctx); err != nil {
		return nil, err
	}
	return []model.Character{{Name: "Ada", Description: "a rapper"}, {Name: "Unit-7", Description: "an AI"}}, nil
}

func (e *stubEntities) ExtractSettings(ctx context.Context, _ model.Script) ([]model.Setting, error) {
	if err := e.rendezvous(ctx); err != nil {
		return nil, err
	}
	return []model.Setting{{Name: "Rooftop", Description: "neon skyline"}}, nil
}

func (e *stubEntities) ExtractScenes(ctx context.Context, _ model.Script, _ model.Song) ([]model.Scene, error) {
	if err := e.rendezvous(ctx); err != nil {
		return nil, err
	}
	return []model.Scene{
		{Index: 1, Description: "Ada on the rooftop", Characters: []string{"Ada"}, Setting: "Rooftop", DurationSec: 5},
		{Index: 0, Description: "Unit-7 wakes", Characters: []string{"Unit-7"}, DurationSec: 5},
	}, nil
}

type stubMedia struct {
	images atomic.Int32
	clips  atomic.Int32

	mu     sync.Mutex
	styles []string
}

func (m *stubMedia) GenerateImage(_ context.Context, req model.ImageRequest) (*model.Image, error) {
	m.images.Add(1)
	m.mu.Lock()
	m.styles = append(m.styles, req.Style)
	m.mu.Unlock()
	return &model.Image{Subject: req.Subject, Name: req.Name, URL: "https://cdn/img/" + req.Name + ".png"}, nil
}

func (m *stubMedia) GenerateClip(_ context.Context, req model.ClipRequest) (*model.Clip, error) {
	m.clips.Add(1)
	return &model.Clip{SceneIndex: req.Scene.Index, URL: fmt.Sprintf("https://cdn/clip/%d.mp4", req.Scene.Index), DurationSec: req.Scene.DurationSec}, nil
}

type stubCompiler struct {
	last model.CompileRequest
}

func (c *stubCompiler) Compile(_ context.Context, req model.CompileRequest) (*model.CompiledVideo, error) {
	c.last = req
	return &model.CompiledVideo{URL: "https://compiler/out.mp4", MimeType: "video/mp4"}, nil
}

func (c *stubCompiler) UploadVideo(_ context.Context, taskID string, v model.CompiledVideo) (*model.UploadedVideo, error) {
	return &model.UploadedVideo{URL: "https://r2/videos/" + taskID + ".mp4", MimeType: v.MimeType}, nil
}

// scriptedInterpreter returns queued decisions in order, then accept.
type scriptedInterpreter struct {
	mu        sync.Mutex
	decisions []model.FeedbackDecision
	requests  []model.FeedbackRequest
}

func (s *scriptedInterpreter) Interpret(_ context.Context, req model.FeedbackRequest) (*model.FeedbackDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.decisions) == 0 {
		return &model.FeedbackDecision{Action: model.FeedbackAccept}, nil
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return &d, nil
}

func (s *scriptedInterpreter) push(d ...model.FeedbackDecision) {
	s.mu.Lock()
	s.decisions = append(s.decisions, d...)
	s.mu.Unlock()
}

// recordingIO keeps every progress in memory.
type recordingIO struct {
	mu       sync.Mutex
	progress []model.OrchestrationProgress
	err      error
}

func (r *recordingIO) OnProgress(_ context.Context, p model.OrchestrationProgress) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.progress = append(r.progress, p)
	r.mu.Unlock()
	return nil
}

func (r *recordingIO) states() []model.TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TaskState, len(r.progress))
	for i, p := range r.progress {
		out[i] = p.State
	}
	return out
}

type fixture struct {
	songs    *stubSongs
	scripts  *stubScripts
	entities *stubEntities
	media    *stubMedia
	compiler *stubCompiler
	interp   *scriptedInterpreter
	engine   *Engine
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		songs:    &stubSongs{},
		scripts:  &stubScripts{},
		entities: newStubEntities(),
		media:    &stubMedia{},
		compiler: &stubCompiler{},
		interp:   &scriptedInterpreter{},
	}
	f.engine = NewEngine(cfg, Collaborators{
		Cards:       stubCards{},
		Songs:       f.songs,
		Scripts:     f.scripts,
		Entities:    f.entities,
		Images:      f.media,
		Clips:       f.media,
		Compiler:    f.compiler,
		Uploader:    f.compiler,
		Interpreter: f.interp,
	}, nil, nil)
	return f
}
