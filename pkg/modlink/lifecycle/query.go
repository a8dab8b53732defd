package lifecycle

import (
	"context"
	"slices"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
)

// Choice is one answer offered by a Prompter.
type Choice struct {
	GameID string
	Label  string
}

// Question asks which game something belongs to.
type Question struct {
	Title   string
	Message string
	Choices []Choice
}

// Prompter asks the user a question. It returns the chosen game id, or ""
// when the user cancels.
type Prompter interface {
	Ask(ctx context.Context, q Question) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, q Question) (string, error)

func (f PrompterFunc) Ask(ctx context.Context, q Question) (string, error) { return f(ctx, q) }

// QueryGameID decides which game content tagged for candidates belongs to.
// The active game wins if it is a candidate; otherwise the user chooses
// between the active game and the candidates that are managed (have a
// profile). Canceling yields UserCanceled.
func (c *Coordinator) QueryGameID(ctx context.Context, candidates []string, names func(gameID string) string) (string, error) {
	st, err := c.state.Snapshot()
	if err != nil {
		return "", err
	}
	active := st.ActiveGameID
	if active != "" && slices.Contains(candidates, active) {
		return active, nil
	}

	managed := make(map[string]bool)
	for _, p := range st.Profiles {
		managed[p.GameID] = true
	}
	var choices []Choice
	label := func(id string) string {
		if names != nil {
			if n := names(id); n != "" {
				return n
			}
		}
		return id
	}
	if active != "" {
		choices = append(choices, Choice{GameID: active, Label: label(active)})
	}
	var offered int
	for _, id := range candidates {
		if managed[id] && id != active {
			choices = append(choices, Choice{GameID: id, Label: label(id)})
			offered++
		}
	}

	q := Question{Choices: choices}
	if offered == 0 {
		q.Title = "No compatible game being managed"
		q.Message = "The games associated with this content are not managed. Install for the currently managed game?"
	} else {
		q.Title = "Content is for a different game"
		q.Message = "This content is not marked compatible with the managed game. Which one do you want to install it for?"
	}

	if c.prompter == nil || len(choices) == 0 {
		return "", deployerr.UserCanceled("query game")
	}
	answer, err := c.prompter.Ask(ctx, q)
	if err != nil {
		return "", deployerr.Classify("query game", err)
	}
	for _, ch := range choices {
		if ch.GameID == answer && answer != "" {
			return answer, nil
		}
	}
	return "", deployerr.UserCanceled("query game")
}
