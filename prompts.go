package main

import (
	"fmt"
	"strings"
)

// Prompt construction for the three council phases. Everything here is
// pure string assembly over round data.

// CouncilMemberSystem is the system prompt for first-round questions.
const CouncilMemberSystem = "You are a helpful assistant participating in a council of AI models. " +
	"Provide a direct, thoughtful, and concise answer to the user's question. " +
	"Do NOT ask follow-up questions. Do NOT ask for clarification. " +
	"Just give your best answer based on the question asked."

// CouncilMemberSystemWithContext is used when prior rounds exist.
const CouncilMemberSystemWithContext = "You are a helpful assistant participating in a council of AI models. " +
	"This is an ongoing conversation: earlier questions and the council's " +
	"final answers are provided as context. Answer the latest question " +
	"directly and concisely, taking the earlier exchanges into account. " +
	"Do NOT ask follow-up questions. Do NOT ask for clarification."

// ChairmanSystem fixes the chairman persona for synthesis.
const ChairmanSystem = "You are the Chairman of an AI council. " +
	"Synthesize the collective wisdom into a clear, authoritative final answer."

// CouncilMemberSystemPrompt selects the member system prompt based on
// whether prior conversation rounds exist.
func CouncilMemberSystemPrompt(previousRounds []ConversationRound) string {
	if len(previousRounds) > 0 {
		return CouncilMemberSystemWithContext
	}
	return CouncilMemberSystem
}

// BuildQuestionWithContext renders the user question, preceded by each
// prior round's question and synthesized answer when the conversation has
// history.
func BuildQuestionWithContext(question string, previousRounds []ConversationRound) string {
	if len(previousRounds) == 0 {
		return question
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for i, round := range previousRounds {
		b.WriteString(fmt.Sprintf("\nQuestion %d: %s\n", i+1, round.Question))
		if round.Synthesis != "" {
			b.WriteString(fmt.Sprintf("Council answer %d: %s\n", i+1, round.Synthesis))
		}
	}
	b.WriteString("\nCurrent question: ")
	b.WriteString(question)
	return b.String()
}

// BuildReviewPrompt renders the peer-review prompt for one reviewer.
// Error-free responses are shown anonymized and numbered by their
// position in validResponses (1-based, enumeration order); the reviewer's
// own response is omitted but its number is still skipped, so numbering
// stays identical for every reviewer in the round.
func BuildReviewPrompt(question string, validResponses []ModelResponse, reviewerID string) string {
	var responsesText strings.Builder
	for i, resp := range validResponses {
		if resp.ModelID == reviewerID {
			continue
		}
		responsesText.WriteString(fmt.Sprintf("\n\n--- Response %d ---\n%s", i+1, resp.Text))
	}

	return fmt.Sprintf(`You are reviewing responses from other AI models to the following question:

Question: %s

Here are the anonymous responses:
%s

Please rank ALL of the responses above from best to worst based on:
1. Accuracy and correctness
2. Clarity and helpfulness
3. Completeness

Provide your ranking as a JSON array with this format:
[
  {"response_num": 1, "rank": 1, "reasoning": "Brief explanation"},
  {"response_num": 2, "rank": 2, "reasoning": "Brief explanation"}
]

Include every response shown, assign each a distinct rank, and only output the JSON array, nothing else.`, question, responsesText.String())
}

// BuildSynthesisPrompt renders the chairman's synthesis prompt: every
// error-free response labeled by model name (not anonymized) plus each
// reviewer's serialized rankings.
func BuildSynthesisPrompt(question string, validResponses []ModelResponse, reviewsText string) string {
	var responsesText strings.Builder
	for _, resp := range validResponses {
		responsesText.WriteString(fmt.Sprintf("\n\n--- %s ---\n%s", resp.ModelName, resp.Text))
	}

	return fmt.Sprintf(`You are the Chairman of a council of AI models. Your job is to give the final verdict based on the council's responses.

Original Question: %s

Council Responses:
%s

Peer Reviews (rankings from each model):
%s

Based on all the responses and peer reviews:
1. Summarize what the council members said
2. State which response(s) you agree with most and why
3. Give YOUR final opinion/answer to the original question

Be direct and decisive. Do NOT ask follow-up questions. Give a clear final answer.`, question, responsesText.String(), reviewsText)
}

// BuildTitlePrompt asks for a 3-5 word session title.
func BuildTitlePrompt(question string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, question)
}
