package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	jsonutil "github.com/richinex/threadline/internal/json"
	"github.com/richinex/threadline/llm"
	"github.com/richinex/threadline/model"
)

// Speaker is who should produce the next message.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// continuePrompt is sent on the model's behalf when it keeps the floor.
const continuePrompt = "Please continue."

const nextSpeakerPrompt = `Look only at your last reply above and decide who should speak next.

Answer "model" when that reply announces a step you are about to take yourself (for example "Next I will update the tests"), or when it stops in the middle of a thought.
Answer "user" when it ends with a question for the user, or when it finished its point and is waiting for the user's reaction.

Reply with JSON only, in this form:
{"reasoning": "<one short sentence>", "next_speaker": "user" or "model"}`

type nextSpeakerResponse struct {
	Reasoning   string  `json:"reasoning"`
	NextSpeaker Speaker `json:"next_speaker"`
}

// checkNextSpeaker decides whether the model keeps talking after a turn
// that requested no tools. Cheap heuristics run first; any failure of the
// backend query yields the floor to the user.
func (e *Engine) checkNextSpeaker(ctx context.Context) Speaker {
	history := e.GetHistory()
	if len(history) == 0 {
		return SpeakerUser
	}
	last := history[len(history)-1]
	if last.Role != model.RoleModel {
		return SpeakerUser
	}
	if len(last.FunctionCalls()) > 0 {
		return SpeakerModel
	}
	text := strings.TrimSpace(last.Text())
	if text == "" {
		return SpeakerModel
	}
	if strings.HasSuffix(text, "?") {
		return SpeakerUser
	}

	var zero float32
	resp, err := e.provider.Generate(ctx, llm.GenerationRequest{
		Model:      e.Model(),
		History:    history,
		NewMessage: model.UserMessage(nextSpeakerPrompt),
		Sampling:   llm.SamplingParams{Temperature: &zero},
	})
	if err != nil {
		e.logger.Debug("next speaker check failed", zap.Error(err))
		return SpeakerUser
	}

	parsed, err := jsonutil.Decode[nextSpeakerResponse](resp.Text())
	if err != nil {
		e.logger.Debug("next speaker reply not parseable", zap.Error(err))
		return SpeakerUser
	}
	switch parsed.NextSpeaker {
	case SpeakerModel:
		e.logger.Debug("model keeps the floor", zap.String("reasoning", parsed.Reasoning))
		return SpeakerModel
	default:
		return SpeakerUser
	}
}
