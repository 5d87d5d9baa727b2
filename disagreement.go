package main

import "math"

// AnalyzeDisagreement scores how much the peer reviewers disagreed about
// each error-free response. Pure: derived on demand from a round's
// responses and reviews, never persisted as primary data.
//
// Each entry reports every rank the response received, the mean rank, and
// a disagreement score in [0,1]: the sample standard deviation of the
// ranks normalized by the theoretical maximum stdev for the pool size,
// (N-1)/2. A response is flagged as disputed either by high rank variance
// (score > 0.5) or by a best/worst spread of at least half the pool.
func AnalyzeDisagreement(responses []ModelResponse, peerReviews []PeerReview) []DisagreementEntry {
	if len(peerReviews) == 0 || len(responses) == 0 {
		return []DisagreementEntry{}
	}

	valid := validResponses(responses)
	if len(valid) < 2 {
		return []DisagreementEntry{}
	}

	// Ranks are keyed by 1-based position in the error-free list, the
	// same enumeration order the review prompts were numbered with.
	ranksByResponse := make(map[int][]int, len(valid))
	for respNum := 1; respNum <= len(valid); respNum++ {
		ranksByResponse[respNum] = []int{}
	}

	for _, review := range peerReviews {
		for _, entry := range review.Rankings {
			if entry.Kind != RankingRanked {
				continue
			}
			if _, ok := ranksByResponse[entry.ResponseNum]; ok {
				ranksByResponse[entry.ResponseNum] = append(ranksByResponse[entry.ResponseNum], entry.Rank)
			}
		}
	}

	numResponses := len(valid)
	analysis := make([]DisagreementEntry, 0, numResponses)

	for respNum := 1; respNum <= numResponses; respNum++ {
		ranks := ranksByResponse[respNum]
		resp := valid[respNum-1]

		if len(ranks) < 2 {
			// Not enough signal to call the response disputed
			meanRank := 0.0
			if len(ranks) == 1 {
				meanRank = float64(ranks[0])
			}
			analysis = append(analysis, DisagreementEntry{
				ModelID:           resp.ModelID,
				ModelName:         resp.ModelName,
				RanksReceived:     ranks,
				MeanRank:          meanRank,
				DisagreementScore: 0,
				HasDisagreement:   false,
			})
			continue
		}

		meanRank := meanInts(ranks)
		std := sampleStdev(ranks, meanRank)

		// Max possible stdev for ranks 1..N is approximately (N-1)/2
		maxStd := float64(numResponses-1) / 2
		score := math.Min(std/maxStd, 1.0)

		spread := maxInt(ranks) - minInt(ranks)
		hasDisagreement := score > 0.5 || float64(spread) >= float64(numResponses)/2

		analysis = append(analysis, DisagreementEntry{
			ModelID:           resp.ModelID,
			ModelName:         resp.ModelName,
			RanksReceived:     ranks,
			MeanRank:          round2(meanRank),
			DisagreementScore: round2(score),
			HasDisagreement:   hasDisagreement,
		})
	}

	return analysis
}

func meanInts(values []int) float64 {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// sampleStdev is the n-1 standard deviation; callers guarantee len >= 2.
func sampleStdev(values []int, mean float64) float64 {
	var sumSq float64
	for _, v := range values {
		d := float64(v) - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func minInt(values []int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxInt(values []int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
