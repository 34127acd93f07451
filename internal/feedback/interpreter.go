// Package feedback turns a user's free-text comment on a paused step into a
// structured accept, retry or modify decision.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
)

const summaryLimit = 400

// ChatCompleter is the LLM call the interpreter relies on.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, system, user string) (string, error)
	IsConfigured() bool
}

// Interpreter asks an LLM for the decision and falls back to keyword
// heuristics when no LLM is configured.
type Interpreter struct {
	llm    ChatCompleter
	logger *zap.Logger
}

func NewInterpreter(llm ChatCompleter, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{llm: llm, logger: logger}
}

func (i *Interpreter) Interpret(ctx context.Context, req model.FeedbackRequest) (*model.FeedbackDecision, error) {
	if i.llm == nil || !i.llm.IsConfigured() {
		d := Heuristic(req)
		i.logger.Debug("feedback interpreted by heuristic",
			zap.String("step", string(req.Step)),
			zap.String("action", string(d.Action)),
		)
		return d, nil
	}

	response, err := i.llm.ChatCompletion(ctx, systemPrompt, buildUserPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("feedback interpretation failed: %w", err)
	}

	d, err := parseDecision(response)
	if err != nil {
		return nil, err
	}
	i.logger.Info("feedback interpreted",
		zap.String("step", string(req.Step)),
		zap.String("action", string(d.Action)),
		zap.String("reason", d.Reason),
	)
	return d, nil
}

const systemPrompt = `You review a user's comment on the output of one step of a music video pipeline.
Decide what to do next:
- "accept": the user is satisfied and the pipeline should move on.
- "retry": the user wants the same step run again with the same input.
- "modify": the user wants the step run again with changed input. Put the complete
  rewritten input for the step in "newInput", merging the original request with the
  requested changes.
Respond with JSON only: {"action":"accept|retry|modify","newInput":"...","reason":"..."}`

func buildUserPrompt(req model.FeedbackRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Step: %s\n", req.Step)
	fmt.Fprintf(&b, "Agent: %s (%s)\n", req.AgentCard.Name, req.AgentCard.Description)

	if original := firstUserText(req.History); original != "" {
		fmt.Fprintf(&b, "Original request: %s\n", original)
	}

	b.WriteString("Previous output:\n")
	for _, a := range req.PreviousOutput {
		fmt.Fprintf(&b, "- %s: %s\n", a.Name, summarize(a))
	}

	fmt.Fprintf(&b, "\nUser comment: %s\n", req.UserComment)
	return b.String()
}

// summarize renders an artifact's text parts, truncated for the prompt.
func summarize(a model.Artifact) string {
	var texts []string
	for _, p := range a.Parts {
		switch p.Kind {
		case model.PartKindText:
			texts = append(texts, p.Text)
		case model.PartKindFile:
			texts = append(texts, p.File.URI)
		}
	}
	s := truncate(strings.Join(texts, " "), summaryLimit)
	if s == "" {
		s = a.Description
	}
	return s
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseDecision(response string) (*model.FeedbackDecision, error) {
	response = extractJSON(response)

	var d model.FeedbackDecision
	if err := json.Unmarshal([]byte(response), &d); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	d.Action = model.FeedbackAction(strings.ToLower(strings.TrimSpace(string(d.Action))))
	if d.Action == "" {
		return nil, fmt.Errorf("no action in response")
	}
	d.NewInput = strings.TrimSpace(d.NewInput)
	return &d, nil
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

func firstUserText(history []model.Message) string {
	for _, m := range history {
		if m.Role == model.RoleUser {
			return m.Text()
		}
	}
	return ""
}
