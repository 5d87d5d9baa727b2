package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// CouncilService drives the three council phases over a fixed roster:
// collect responses, collect peer reviews, synthesize. All state lives in
// the ConversationRound being operated on; the service itself only holds
// its collaborators.
type CouncilService struct {
	client     *Client
	roster     []ModelDescriptor
	chairman   ModelDescriptor
	titleModel string
}

// NewCouncilService wires the orchestrator to its client and roster.
func NewCouncilService(client *Client, cfg *Config) *CouncilService {
	return &CouncilService{
		client:     client,
		roster:     cfg.CouncilModels,
		chairman:   cfg.ChairmanModel,
		titleModel: cfg.TitleModel,
	}
}

// validResponses filters a round's responses down to the error-free ones,
// preserving submission order. Peer-review numbering and disagreement
// analysis both depend on this enumeration order staying stable.
func validResponses(responses []ModelResponse) []ModelResponse {
	var valid []ModelResponse
	for _, r := range responses {
		if !r.Failed() {
			valid = append(valid, r)
		}
	}
	return valid
}

// GetCouncilResponses queries every roster model concurrently with the
// same prompt. A failed call never aborts the round: it is converted into
// a ModelResponse carrying the error. Results come back in roster order
// regardless of completion timing, exactly one per roster model.
func (s *CouncilService) GetCouncilResponses(ctx context.Context, current ConversationRound, previousRounds []ConversationRound) []ModelResponse {
	systemPrompt := CouncilMemberSystemPrompt(previousRounds)
	prompt := BuildQuestionWithContext(current.Question, previousRounds)

	responses := make([]ModelResponse, len(s.roster))

	g, gctx := errgroup.WithContext(ctx)
	for i, model := range s.roster {
		i, model := i, model
		g.Go(func() error {
			text, err := s.client.Chat(gctx, model.ID, prompt, ChatOptions{
				SystemPrompt: systemPrompt,
			})
			if err != nil {
				log.Printf("Error querying model %s: %v", model.ID, err)
				responses[i] = ModelResponse{ModelID: model.ID, ModelName: model.Name, Err: err.Error()}
				return nil // contained: keep sibling calls running
			}
			responses[i] = ModelResponse{ModelID: model.ID, ModelName: model.Name, Text: text}
			return nil
		})
	}
	g.Wait()

	return responses
}

// GetPeerReviews has every roster model rank the round's error-free
// responses. With fewer than two candidates there is nothing to rank
// against and the review list is empty. Reviewer failures are contained
// as an error sentinel ranking rather than aborting the round.
func (s *CouncilService) GetPeerReviews(ctx context.Context, current ConversationRound, previousRounds []ConversationRound) []PeerReview {
	valid := validResponses(current.Responses)
	if len(valid) < 2 {
		return []PeerReview{}
	}

	reviews := make([]PeerReview, len(s.roster))

	g, gctx := errgroup.WithContext(ctx)
	for i, model := range s.roster {
		i, model := i, model
		g.Go(func() error {
			prompt := BuildReviewPrompt(current.Question, valid, model.ID)

			text, err := s.client.Chat(gctx, model.ID, prompt, ChatOptions{Temperature: 0.3})
			if err != nil {
				log.Printf("Error collecting review from %s: %v", model.ID, err)
				reviews[i] = PeerReview{
					ReviewerModel: model.Name,
					Rankings:      []RankingEntry{ErrorEntry(err.Error())},
				}
				return nil
			}

			reviews[i] = PeerReview{
				ReviewerModel: model.Name,
				Rankings:      ParseReviewRankings(text),
			}
			return nil
		})
	}
	g.Wait()

	return reviews
}

// ParseReviewRankings extracts the first '[' through the last ']' of a
// reviewer's output and decodes it as a JSON ranking array. Models do not
// reliably follow the format contract, so missing or malformed JSON is
// downgraded to a single raw sentinel entry holding the full text.
func ParseReviewRankings(text string) []RankingEntry {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return []RankingEntry{RawEntry(text)}
	}

	var rankings []RankingEntry
	if err := json.Unmarshal([]byte(text[start:end+1]), &rankings); err != nil {
		return []RankingEntry{RawEntry(text)}
	}
	return rankings
}

// SynthesizeResponse asks the chairman for the final answer, combining
// every error-free response with each reviewer's serialized rankings.
// There is no fallback model for this step: a chairman failure is fatal
// to synthesis and propagates to the caller.
func (s *CouncilService) SynthesizeResponse(ctx context.Context, current ConversationRound, previousRounds []ConversationRound) (string, error) {
	valid := validResponses(current.Responses)

	var reviewsText strings.Builder
	for _, review := range current.PeerReviews {
		serialized, err := json.MarshalIndent(review.Rankings, "", "  ")
		if err != nil {
			serialized = []byte("[]")
		}
		reviewsText.WriteString(fmt.Sprintf("\n\n--- Review by %s ---\n%s", review.ReviewerModel, serialized))
	}

	prompt := BuildSynthesisPrompt(current.Question, valid, reviewsText.String())

	log.Printf("Starting synthesis with %s (prompt length: %d chars)", s.chairman.Name, len(prompt))

	text, err := s.client.Chat(ctx, s.chairman.ID, prompt, ChatOptions{
		SystemPrompt: ChairmanSystem,
		MaxTokens:    4096,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}

	log.Printf("Synthesis complete, response length: %d chars", len(text))
	return text, nil
}

// RunCouncilRound executes the full round state machine with strict phase
// barriers: reviews only see the complete response set, synthesis only
// sees the complete review set. Per-model failures degrade the round;
// only a chairman failure moves it to failed.
func (s *CouncilService) RunCouncilRound(ctx context.Context, question string, previousRounds []ConversationRound) (ConversationRound, error) {
	round := ConversationRound{
		Question:  question,
		Status:    RoundPending,
		CreatedAt: time.Now().UTC(),
	}

	round.Responses = s.GetCouncilResponses(ctx, round, previousRounds)
	round.Status = RoundResponded

	if len(validResponses(round.Responses)) == 0 {
		round.Status = RoundFailed
		return round, fmt.Errorf("all council models failed to respond")
	}

	round.PeerReviews = s.GetPeerReviews(ctx, round, previousRounds)
	round.Status = RoundReviewed

	synthesis, err := s.SynthesizeResponse(ctx, round, previousRounds)
	if err != nil {
		round.Status = RoundFailed
		return round, err
	}

	round.Synthesis = synthesis
	round.Status = RoundSynthesized
	return round, nil
}

// GenerateSessionTitle asks a fast model for a 3-5 word summary of the
// first question. Failures are the caller's to handle; a session can live
// with its default title.
func (s *CouncilService) GenerateSessionTitle(ctx context.Context, question string) (string, error) {
	text, err := s.client.Chat(ctx, s.titleModel, BuildTitlePrompt(question), ChatOptions{MaxTokens: 64})
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title := strings.TrimSpace(text)
	title = strings.Trim(title, "\"'")
	if len(title) > 50 {
		title = title[:47] + "..."
	}
	return title, nil
}
