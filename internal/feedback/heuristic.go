package feedback

import (
	"fmt"
	"strings"

	"github.com/makeasinger/videoagent/internal/model"
)

var (
	retryWords  = []string{"retry", "try again", "again", "regenerate", "redo", "another one", "start over"}
	acceptWords = []string{"accept", "approve", "looks good", "sounds good", "good", "great", "perfect", "love it",
		"continue", "proceed", "next", "go ahead", "yes", "ok", "okay", "fine", "ship it"}
	modifyWords = []string{"change", "instead", "make it", "more", "less", "but", "should", "replace", "add", "remove"}
)

// Heuristic classifies a comment by keywords. Modification wins over
// acceptance so "good but make it slower" is a modify.
func Heuristic(req model.FeedbackRequest) *model.FeedbackDecision {
	comment := strings.ToLower(strings.TrimSpace(req.UserComment))

	switch {
	case containsAny(comment, modifyWords):
		return &model.FeedbackDecision{
			Action:   model.FeedbackModify,
			NewInput: mergeInput(firstUserText(req.History), req.UserComment),
			Reason:   "comment asks for changes",
		}
	case containsAny(comment, retryWords):
		return &model.FeedbackDecision{Action: model.FeedbackRetry, Reason: "comment asks for another attempt"}
	case containsAny(comment, acceptWords):
		return &model.FeedbackDecision{Action: model.FeedbackAccept, Reason: "comment approves the output"}
	case len(strings.Fields(comment)) > 3:
		return &model.FeedbackDecision{
			Action:   model.FeedbackModify,
			NewInput: mergeInput(firstUserText(req.History), req.UserComment),
			Reason:   "comment reads as direction",
		}
	}
	return &model.FeedbackDecision{Action: model.FeedbackAccept, Reason: "no change requested"}
}

func mergeInput(original, comment string) string {
	original = strings.TrimSpace(original)
	comment = strings.TrimSpace(comment)
	if original == "" {
		return comment
	}
	return fmt.Sprintf("%s. Changes: %s", strings.TrimRight(original, "."), comment)
}

// containsAny matches whole words or phrases.
func containsAny(s string, words []string) bool {
	padded := " " + strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' {
			return r
		}
		return ' '
	}, s) + " "
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}
