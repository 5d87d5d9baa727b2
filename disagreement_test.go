package main

import (
	"testing"
)

func rankedReview(reviewer string, entries ...RankingEntry) PeerReview {
	return PeerReview{ReviewerModel: reviewer, Rankings: entries}
}

func threeValidResponses() []ModelResponse {
	return []ModelResponse{
		{ModelID: "test/alpha", ModelName: "Alpha", Text: "a"},
		{ModelID: "test/beta", ModelName: "Beta", Text: "b"},
		{ModelID: "test/gamma", ModelName: "Gamma", Text: "c"},
	}
}

// TestAnalyzeDisagreement covers the rank-variance scoring math and its
// cutoffs.
func TestAnalyzeDisagreement(t *testing.T) {
	t.Run("unanimous rankings produce zero scores", func(t *testing.T) {
		responses := threeValidResponses()
		reviews := []PeerReview{
			rankedReview("Alpha",
				RankedEntry(1, 1, ""), RankedEntry(2, 2, ""), RankedEntry(3, 3, "")),
			rankedReview("Beta",
				RankedEntry(1, 1, ""), RankedEntry(2, 2, ""), RankedEntry(3, 3, "")),
			rankedReview("Gamma",
				RankedEntry(1, 1, ""), RankedEntry(2, 2, ""), RankedEntry(3, 3, "")),
		}

		analysis := AnalyzeDisagreement(responses, reviews)
		if len(analysis) != 3 {
			t.Fatalf("Entries = %d, want 3", len(analysis))
		}
		for i, entry := range analysis {
			if entry.DisagreementScore != 0 {
				t.Errorf("Entry %d score = %v, want 0", i, entry.DisagreementScore)
			}
			if entry.HasDisagreement {
				t.Errorf("Entry %d flagged as disputed with unanimous ranks", i)
			}
			if entry.MeanRank != float64(i+1) {
				t.Errorf("Entry %d mean = %v, want %d", i, entry.MeanRank, i+1)
			}
		}
	})

	t.Run("split best and worst ranks clamp to 1.0", func(t *testing.T) {
		// One reviewer ranks response 1 best, the other worst. With 3
		// responses, stdev([1,3]) ~= 1.41 against a max of 1.0.
		responses := threeValidResponses()
		reviews := []PeerReview{
			rankedReview("Beta", RankedEntry(1, 1, ""), RankedEntry(2, 2, ""), RankedEntry(3, 3, "")),
			rankedReview("Gamma", RankedEntry(1, 3, ""), RankedEntry(2, 2, ""), RankedEntry(3, 1, "")),
		}

		analysis := AnalyzeDisagreement(responses, reviews)
		first := analysis[0]
		if first.DisagreementScore != 1.0 {
			t.Errorf("Score = %v, want clamped 1.0", first.DisagreementScore)
		}
		if !first.HasDisagreement {
			t.Error("Split [1,3] ranks should flag disagreement")
		}
		if first.MeanRank != 2.0 {
			t.Errorf("Mean = %v, want 2.0", first.MeanRank)
		}

		// Response 2 got [2,2]: no variance, no dispute.
		second := analysis[1]
		if second.DisagreementScore != 0 || second.HasDisagreement {
			t.Errorf("Agreed ranks scored %v (disputed=%v), want 0/false",
				second.DisagreementScore, second.HasDisagreement)
		}
	})

	t.Run("scores stay within zero and one", func(t *testing.T) {
		responses := threeValidResponses()
		reviews := []PeerReview{
			rankedReview("Alpha", RankedEntry(1, 1, ""), RankedEntry(2, 3, ""), RankedEntry(3, 2, "")),
			rankedReview("Beta", RankedEntry(1, 3, ""), RankedEntry(2, 1, ""), RankedEntry(3, 2, "")),
			rankedReview("Gamma", RankedEntry(1, 2, ""), RankedEntry(2, 2, ""), RankedEntry(3, 1, "")),
		}

		for _, entry := range AnalyzeDisagreement(responses, reviews) {
			if entry.DisagreementScore < 0 || entry.DisagreementScore > 1 {
				t.Errorf("%s score = %v, out of [0,1]", entry.ModelName, entry.DisagreementScore)
			}
		}
	})

	t.Run("no reviews means no analysis", func(t *testing.T) {
		if got := AnalyzeDisagreement(threeValidResponses(), nil); len(got) != 0 {
			t.Errorf("Entries = %d, want 0", len(got))
		}
	})

	t.Run("fewer than two valid responses means no analysis", func(t *testing.T) {
		responses := []ModelResponse{
			{ModelID: "test/alpha", ModelName: "Alpha", Text: "a"},
			{ModelID: "test/beta", ModelName: "Beta", Err: "boom"},
		}
		reviews := []PeerReview{
			rankedReview("Alpha", RankedEntry(1, 1, "")),
		}
		if got := AnalyzeDisagreement(responses, reviews); len(got) != 0 {
			t.Errorf("Entries = %d, want 0", len(got))
		}
	})

	t.Run("out-of-range and non-ranked entries are ignored", func(t *testing.T) {
		responses := threeValidResponses()
		reviews := []PeerReview{
			rankedReview("Alpha",
				RankedEntry(1, 1, ""),
				RankedEntry(99, 2, ""),
				ErrorEntry("reviewer offline"),
				RawEntry("not json")),
			rankedReview("Beta", RankedEntry(1, 1, "")),
		}

		analysis := AnalyzeDisagreement(responses, reviews)
		if len(analysis) != 3 {
			t.Fatalf("Entries = %d, want 3", len(analysis))
		}
		first := analysis[0]
		if len(first.RanksReceived) != 2 {
			t.Errorf("RanksReceived = %v, want the two valid ranks", first.RanksReceived)
		}
		if first.DisagreementScore != 0 || first.HasDisagreement {
			t.Errorf("Identical ranks scored %v (disputed=%v)", first.DisagreementScore, first.HasDisagreement)
		}
	})

	t.Run("a single rank sets the mean but never the flag", func(t *testing.T) {
		responses := threeValidResponses()
		reviews := []PeerReview{
			rankedReview("Alpha", RankedEntry(2, 3, "")),
		}

		analysis := AnalyzeDisagreement(responses, reviews)
		second := analysis[1]
		if second.MeanRank != 3.0 {
			t.Errorf("Mean = %v, want 3.0", second.MeanRank)
		}
		if second.DisagreementScore != 0 || second.HasDisagreement {
			t.Errorf("Single rank scored %v (disputed=%v), want 0/false",
				second.DisagreementScore, second.HasDisagreement)
		}

		// Responses with no ranks at all report an empty slice and zero mean.
		first := analysis[0]
		if len(first.RanksReceived) != 0 || first.MeanRank != 0 {
			t.Errorf("Unranked response = %+v, want empty ranks and zero mean", first)
		}
	})
}
