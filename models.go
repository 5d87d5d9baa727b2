package main

import (
	"encoding/json"
	"time"
)

// ModelDescriptor is one static roster entry: a model the council can
// route requests to. Loaded from configuration, immutable afterwards.
type ModelDescriptor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// ModelResponse is one model's answer to one prompt in one round.
// Err and a populated Text are mutually exclusive: an empty Text with a
// non-empty Err means the call failed. Never mutated after creation.
type ModelResponse struct {
	ModelID   string `json:"model_id"`
	ModelName string `json:"model_name"`
	Text      string `json:"response"`
	Err       string `json:"error,omitempty"`
}

// Failed reports whether this response represents a failed call.
func (r ModelResponse) Failed() bool {
	return r.Err != ""
}

// RankingKind discriminates the variants of a RankingEntry.
type RankingKind int

const (
	// RankingRanked is a well-formed entry with response number and rank.
	RankingRanked RankingKind = iota
	// RankingError records a reviewer call failure.
	RankingError
	// RankingRaw preserves reviewer output that could not be parsed.
	RankingRaw
)

// RankingEntry is one element of a reviewer's ranking. Reviewer output is
// free-form model text, so an entry is a tagged variant rather than a
// loose map: downstream code switches on Kind instead of probing keys.
type RankingEntry struct {
	Kind        RankingKind `json:"-"`
	ResponseNum int         `json:"-"`
	Rank        int         `json:"-"`
	Reasoning   string      `json:"-"`
	Err         string      `json:"-"`
	RawResponse string      `json:"-"`
}

// RankedEntry builds a well-formed ranking entry.
func RankedEntry(responseNum, rank int, reasoning string) RankingEntry {
	return RankingEntry{Kind: RankingRanked, ResponseNum: responseNum, Rank: rank, Reasoning: reasoning}
}

// ErrorEntry builds the sentinel entry for a failed reviewer call.
func ErrorEntry(err string) RankingEntry {
	return RankingEntry{Kind: RankingError, Err: err}
}

// RawEntry builds the sentinel entry for unparseable reviewer output.
func RawEntry(raw string) RankingEntry {
	return RankingEntry{Kind: RankingRaw, RawResponse: raw}
}

// rankingEntryJSON is the wire shape shared by all three variants.
type rankingEntryJSON struct {
	ResponseNum *int     `json:"response_num,omitempty"`
	Rank        *float64 `json:"rank,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Err         *string  `json:"error,omitempty"`
	RawResponse *string  `json:"raw_response,omitempty"`
}

// MarshalJSON emits the variant's wire shape:
// {response_num, rank, reasoning} | {"error": ...} | {"raw_response": ...}.
func (e RankingEntry) MarshalJSON() ([]byte, error) {
	var out rankingEntryJSON
	switch e.Kind {
	case RankingError:
		out.Err = &e.Err
	case RankingRaw:
		out.RawResponse = &e.RawResponse
	default:
		n, rank := e.ResponseNum, float64(e.Rank)
		out.ResponseNum = &n
		out.Rank = &rank
		out.Reasoning = e.Reasoning
	}
	return json.Marshal(out)
}

// UnmarshalJSON classifies an arbitrary JSON object into one of the three
// variants. Objects missing both response_num and rank are preserved as
// raw entries so nothing a model emitted is silently dropped.
func (e *RankingEntry) UnmarshalJSON(data []byte) error {
	var in rankingEntryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Err != nil:
		*e = ErrorEntry(*in.Err)
	case in.RawResponse != nil:
		*e = RawEntry(*in.RawResponse)
	case in.ResponseNum != nil && in.Rank != nil:
		*e = RankedEntry(*in.ResponseNum, int(*in.Rank), in.Reasoning)
	default:
		*e = RawEntry(string(data))
	}
	return nil
}

// PeerReview is one reviewer's ranked opinion of the other models'
// responses in a round.
type PeerReview struct {
	ReviewerModel string         `json:"reviewer_model"`
	Rankings      []RankingEntry `json:"rankings"`
}

// RoundStatus tracks how far a round has progressed.
type RoundStatus string

const (
	RoundPending     RoundStatus = "pending"
	RoundResponded   RoundStatus = "responded"
	RoundReviewed    RoundStatus = "reviewed"
	RoundSynthesized RoundStatus = "synthesized"
	RoundFailed      RoundStatus = "failed"
)

// ConversationRound is one full pass of the council process: the user's
// question, the council's responses, the peer reviews, and the chairman's
// synthesis. Previous rounds are read-only context for later rounds.
type ConversationRound struct {
	Question    string          `json:"question"`
	Responses   []ModelResponse `json:"responses"`
	PeerReviews []PeerReview    `json:"peer_reviews"`
	Synthesis   string          `json:"synthesis,omitempty"`
	Status      RoundStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DisagreementEntry is the derived consensus analysis for one response.
// Recomputed on demand from a round's responses and peer reviews, never
// persisted as primary data.
type DisagreementEntry struct {
	ModelID           string  `json:"model_id"`
	ModelName         string  `json:"model_name"`
	RanksReceived     []int   `json:"ranks_received"`
	MeanRank          float64 `json:"mean_rank"`
	DisagreementScore float64 `json:"disagreement_score"`
	HasDisagreement   bool    `json:"has_disagreement"`
}

// Session is a stored conversation: an ordered list of rounds.
type Session struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	Title     string              `json:"title"`
	Rounds    []ConversationRound `json:"rounds"`
}

// SessionMetadata is the listing view of a session.
type SessionMetadata struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Title      string    `json:"title"`
	RoundCount int       `json:"round_count"`
}

// chatMessage is a message for the OpenRouter chat-completions API.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is a request to the OpenRouter chat-completions API.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// chatResponse is the subset of the chat-completions response the client
// consumes. A 200 response may still carry an error payload.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AvailableModel is one entry of the upstream model catalog.
type AvailableModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length,omitempty"`
}

// modelsResponse is the upstream model listing envelope.
type modelsResponse struct {
	Data []AvailableModel `json:"data"`
}

// SendMessageRequest asks the council a question in a session.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse carries one completed round plus its derived
// disagreement analysis.
type SendMessageResponse struct {
	Round        ConversationRound   `json:"round"`
	Disagreement []DisagreementEntry `json:"disagreement"`
}

// FetchURLRequest asks for readable text extracted from a web page.
type FetchURLRequest struct {
	URL string `json:"url" binding:"required"`
}
