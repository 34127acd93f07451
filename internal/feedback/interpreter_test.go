package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/videoagent/internal/model"
)

type fakeLLM struct {
	response   string
	err        error
	configured bool
	system     string
	user       string
}

func (f *fakeLLM) ChatCompletion(_ context.Context, system, user string) (string, error) {
	f.system, f.user = system, user
	return f.response, f.err
}

func (f *fakeLLM) IsConfigured() bool { return f.configured }

func request(comment string) model.FeedbackRequest {
	return model.FeedbackRequest{
		Step:        model.StepGenerateSong,
		History:     []model.Message{model.NewUserMessage("t1", "c1", "A cyberpunk rap anthem")},
		UserComment: comment,
		AgentCard:   model.AgentCard{Name: "Song Agent"},
		PreviousOutput: []model.Artifact{{
			Name:  model.ArtifactSong,
			Parts: []model.Part{model.TextPart("Neon verses"), model.FilePart("https://cdn/song.mp3", "audio/mpeg", "")},
		}},
	}
}

func TestInterpreter_LLM(t *testing.T) {
	llm := &fakeLLM{
		configured: true,
		response:   "Sure!\n```json\n{\"action\": \"Modify\", \"newInput\": \" slower tempo \", \"reason\": \"tempo\"}\n```",
	}
	in := NewInterpreter(llm, nil)

	d, err := in.Interpret(context.Background(), request("slower please"))
	require.NoError(t, err)
	assert.Equal(t, model.FeedbackModify, d.Action)
	assert.Equal(t, "slower tempo", d.NewInput)

	assert.Contains(t, llm.user, "Step: GENERATE_SONG")
	assert.Contains(t, llm.user, "Original request: A cyberpunk rap anthem")
	assert.Contains(t, llm.user, "song: Neon verses https://cdn/song.mp3")
	assert.Contains(t, llm.user, "User comment: slower please")
}

func TestInterpreter_LLMErrors(t *testing.T) {
	t.Run("call fails", func(t *testing.T) {
		in := NewInterpreter(&fakeLLM{configured: true, err: errors.New("503")}, nil)
		_, err := in.Interpret(context.Background(), request("ok"))
		require.ErrorContains(t, err, "503")
	})

	t.Run("not json", func(t *testing.T) {
		in := NewInterpreter(&fakeLLM{configured: true, response: "I think they like it"}, nil)
		_, err := in.Interpret(context.Background(), request("ok"))
		require.Error(t, err)
	})

	t.Run("missing action", func(t *testing.T) {
		in := NewInterpreter(&fakeLLM{configured: true, response: `{"reason":"?"}`}, nil)
		_, err := in.Interpret(context.Background(), request("ok"))
		require.ErrorContains(t, err, "no action")
	})

	t.Run("unknown action passes through", func(t *testing.T) {
		in := NewInterpreter(&fakeLLM{configured: true, response: `{"action":"escalate"}`}, nil)
		d, err := in.Interpret(context.Background(), request("ok"))
		require.NoError(t, err)
		assert.Equal(t, model.FeedbackAction("escalate"), d.Action)
	})
}

func TestHeuristic(t *testing.T) {
	tests := []struct {
		comment string
		action  model.FeedbackAction
	}{
		{"Looks good!", model.FeedbackAccept},
		{"yes", model.FeedbackAccept},
		{"", model.FeedbackAccept},
		{"try again", model.FeedbackRetry},
		{"Regenerate it", model.FeedbackRetry},
		{"good but make it slower", model.FeedbackModify},
		{"I want a female vocalist with a jazzy feel", model.FeedbackModify},
		{"nextgen", model.FeedbackAccept},
	}

	for _, tt := range tests {
		t.Run(tt.comment, func(t *testing.T) {
			d := Heuristic(request(tt.comment))
			assert.Equal(t, tt.action, d.Action)
		})
	}
}

func TestHeuristic_ModifyMergesOriginalPrompt(t *testing.T) {
	d := Heuristic(request("make it slower"))
	require.Equal(t, model.FeedbackModify, d.Action)
	assert.Equal(t, "A cyberpunk rap anthem. Changes: make it slower", d.NewInput)
}

func TestInterpreter_UsesHeuristicWithoutLLM(t *testing.T) {
	in := NewInterpreter(&fakeLLM{}, nil)
	d, err := in.Interpret(context.Background(), request("redo"))
	require.NoError(t, err)
	assert.Equal(t, model.FeedbackRetry, d.Action)
}

func TestSummarize_KeepsRunesWhole(t *testing.T) {
	lyrics := strings.Repeat("a", summaryLimit-1) + "ünd mehr"
	got := summarize(model.Artifact{Parts: []model.Part{model.TextPart(lyrics)}})

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", summaryLimit-1)+"...", got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "...", truncate("日本", 2))
	assert.Equal(t, "日...", truncate("日本", 4))
}
