package critique

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// fillers are hedges and verbal tics counted against clarity and confidence.
var fillers = map[string]bool{
	"um": true, "uh": true, "erm": true, "like": true, "basically": true,
	"actually": true, "literally": true, "maybe": true, "probably": true,
	"sorta": true, "kinda": true, "just": true,
}

// empathyWords signal acknowledgement of the other side.
var empathyWords = map[string]bool{
	"understand": true, "appreciate": true, "hear": true, "sorry": true,
	"thanks": true, "thank": true, "agree": true, "fair": true, "feel": true,
}

// persuasionWords signal reasons, evidence or a concrete ask.
var persuasionWords = map[string]bool{
	"because": true, "so": true, "therefore": true, "data": true,
	"results": true, "propose": true, "suggest": true, "recommend": true,
	"benefit": true, "value": true, "example": true, "percent": true,
}

// Heuristic is an offline Critic that scores word-level features of the
// user's turns. It needs no network and serves as the last fallback.
type Heuristic struct{}

var _ Critic = Heuristic{}

type transcriptStats struct {
	userTurns, modelTurns int
	userWords, modelWords int
	fillers               int
	empathy               int
	persuasion            int
	questions             int
}

func analyse(transcript string) transcriptStats {
	var st transcriptStats
	for _, line := range strings.Split(transcript, "\n") {
		speaker, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && r != '\''
		})
		switch strings.TrimSpace(speaker) {
		case "User":
			st.userTurns++
			st.userWords += len(words)
			st.questions += strings.Count(text, "?")
			for _, w := range words {
				switch {
				case fillers[w]:
					st.fillers++
				case empathyWords[w]:
					st.empathy++
				case persuasionWords[w]:
					st.persuasion++
				}
			}
		case "Model":
			st.modelTurns++
			st.modelWords += len(words)
		}
	}
	return st
}

// Critique implements [Critic].
func (Heuristic) Critique(_ context.Context, transcript string) (*Critique, error) {
	st := analyse(transcript)
	if st.userTurns == 0 {
		return nil, ErrEmptyTranscript
	}

	perTurn := float64(st.userWords) / float64(st.userTurns)
	fillerRate := float64(st.fillers) / float64(max(1, st.userWords))
	share := float64(st.userWords) / float64(max(1, st.userWords+st.modelWords))

	clarity := 80 - int(fillerRate*400)
	if perTurn > 60 {
		clarity -= 15
	}
	confidence := 55 + int(min(share, 0.6)*50) - int(fillerRate*300)
	persuasion := 40 + min(st.persuasion, 8)*6
	empathy := 40 + min(st.empathy, 6)*8 + min(st.questions, 3)*4

	c := &Critique{
		Scores: Scores{
			Clarity:    clarity,
			Confidence: confidence,
			Persuasion: persuasion,
			Empathy:    empathy,
		}.clamp(),
		Source: "heuristic",
	}

	if fillerRate < 0.03 {
		c.Strengths = append(c.Strengths, "Few filler words; your points came across directly.")
	} else {
		c.Improvements = append(c.Improvements,
			fmt.Sprintf("Cut filler words and hedges (%d in %d words).", st.fillers, st.userWords))
	}
	if st.persuasion >= 3 {
		c.Strengths = append(c.Strengths, "You backed your position with reasons.")
	} else {
		c.Improvements = append(c.Improvements, "Give concrete reasons or evidence for what you ask for.")
	}
	if st.empathy+st.questions >= 2 {
		c.Strengths = append(c.Strengths, "You acknowledged the other side and asked questions.")
	} else {
		c.Improvements = append(c.Improvements, "Acknowledge the other person's concerns and ask about them.")
	}
	if perTurn > 60 {
		c.Improvements = append(c.Improvements, "Keep turns shorter so the conversation stays a dialogue.")
	}

	c.Summary = fmt.Sprintf("You spoke %d times, averaging %.0f words per turn, and took %.0f%% of the conversation.",
		st.userTurns, perTurn, share*100)
	return c, nil
}
