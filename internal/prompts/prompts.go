// Package prompts renders the generation prompts for each step of a round
// from the round's policy, the candidate profile, and the ledger.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashita-ai/mensetsu/internal/interview"
)

// Opening renders the prompt for a round's first question.
func Opening(p interview.Policy, profile json.RawMessage) string {
	var b strings.Builder
	b.WriteString(p.Persona)
	b.WriteString("\n\n")
	writeProfile(&b, profile)
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString(p.OpeningGuidance)
	b.WriteString("\nAsk exactly ONE question. Do not give feedback or hints.\n")
	return b.String()
}

// FollowupInput carries the per-turn facts of a follow-up prompt.
type FollowupInput struct {
	Policy         interview.Policy
	Profile        json.RawMessage
	Ledger         []interview.QAPair
	Action         interview.Action
	QuestionNumber int
	// ForcedTopic, when set, is the topic the next question must cover.
	ForcedTopic string
}

// Followup renders the prompt that evaluates the latest answer and decides
// the next step.
func Followup(in FollowupInput) string {
	p := in.Policy
	var b strings.Builder
	b.WriteString(p.Persona)
	b.WriteString("\n\n")
	writeProfile(&b, in.Profile)
	writeLedger(&b, in.Ledger)
	fmt.Fprintf(&b, "Current difficulty action: %s\n", in.Action)
	fmt.Fprintf(&b, "Current question number: %d / %d\n\n", in.QuestionNumber, p.MaxQuestions)

	b.WriteString("RULES:\n")
	b.WriteString("1. Evaluate only the most recent answer.\n")
	b.WriteString("2. Decide action: increase / decrease / keep / end.\n")
	fmt.Fprintf(&b, "3. %s\n", p.FollowupGuidance)
	b.WriteString("4. Ask exactly ONE next question if continuing.\n")
	fmt.Fprintf(&b, "5. Never ask more than %d questions in total.\n", p.MaxQuestions)
	b.WriteString("6. End only if the interview quality is very poor.\n")
	if in.ForcedTopic != "" {
		fmt.Fprintf(&b, "7. The next question MUST be about %s. Do not end the interview on this turn.\n", in.ForcedTopic)
	}
	b.WriteString("\nIf ending: should_end = true, action = \"end\", next_question = \"\".\n")
	b.WriteString("Return ONLY structured output matching the schema.\n")
	return b.String()
}

// ForcedTopic renders a direct prompt for one question on topic, used when
// the round must continue despite an end decision.
func ForcedTopic(p interview.Policy, profile json.RawMessage, ledger []interview.QAPair, topic string) string {
	var b strings.Builder
	b.WriteString(p.Persona)
	b.WriteString("\n\n")
	writeProfile(&b, profile)
	writeLedger(&b, ledger)
	fmt.Fprintf(&b, "Ask exactly ONE interview question about %s, suited to the candidate's level so far.\n", topic)
	b.WriteString("Return only the question text.\n")
	return b.String()
}

// Analysis renders the prompt for the final evaluation of a round.
func Analysis(p interview.Policy, profile json.RawMessage, ledger []interview.QAPair) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are evaluating a %s round interview.\n", p.Round)
	b.WriteString(p.AnalysisGuidance)
	b.WriteString("\n\n")
	writeProfile(&b, profile)
	writeLedger(&b, ledger)
	fmt.Fprintf(&b, "Give an integer score from 0 to %d.\n", p.ScoreScale)
	b.WriteString("Return ONLY structured output matching the schema.\n")
	return b.String()
}

func writeProfile(b *strings.Builder, profile json.RawMessage) {
	b.WriteString("CANDIDATE PROFILE:\n")
	b.Write(profile)
	b.WriteString("\n\n")
}

func writeLedger(b *strings.Builder, ledger []interview.QAPair) {
	b.WriteString("PREVIOUS QUESTIONS AND ANSWERS:\n")
	if len(ledger) == 0 {
		b.WriteString("(none)\n\n")
		return
	}
	for i, qa := range ledger {
		fmt.Fprintf(b, "Q%d: %s\nA%d: %s\n", i+1, qa.Question, i+1, qa.Answer)
	}
	b.WriteString("\n")
}
