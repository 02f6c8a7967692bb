// Package statcheck checks that the observed DP predicate hit rate holds
// within statistical bounds of its 2^-dp_bits expectation, and scores
// worker submission quality with the same log-likelihood-ratio idiom used
// to weigh clustering evidence elsewhere in this codebase.
package statcheck

import "math"

// DPRateVerdict classifies an observed DP-arrival rate against the
// theoretical 2^-dp_bits expectation.
type DPRateVerdict string

const (
	// VerdictNominal: observed rate within 3 sigma of the expectation.
	VerdictNominal DPRateVerdict = "nominal"
	// VerdictSuspicious: between 3 and 6 sigma — log for review.
	VerdictSuspicious DPRateVerdict = "suspicious"
	// VerdictAnomalous: beyond 6 sigma — config mismatch or a broken kernel.
	VerdictAnomalous DPRateVerdict = "anomalous"
)

// DPRateReport is the result of CheckDPRate.
type DPRateReport struct {
	Observed  int64
	Trials    int64
	Want      float64 // 2^-dp_bits
	Got       float64 // observed / trials
	SigmaDist float64 // |Got - Want| / sigma
	Verdict   DPRateVerdict
}

// CheckDPRate is a long-running self-test: given the number of DPs
// observed out of trials steps at the
// given dp_bits, report how many standard deviations the observed rate is
// from the theoretical 2^-dp_bits, using the normal approximation to the
// binomial (valid since trials*want is large in steady-state operation).
func CheckDPRate(dpBits int, observed, trials int64) DPRateReport {
	want := math.Pow(2, -float64(dpBits))
	if trials == 0 {
		return DPRateReport{Want: want, Verdict: VerdictNominal}
	}

	got := float64(observed) / float64(trials)
	sigma := math.Sqrt(want * (1 - want) / float64(trials))

	report := DPRateReport{
		Observed: observed,
		Trials:   trials,
		Want:     want,
		Got:      got,
	}
	if sigma == 0 {
		report.Verdict = VerdictNominal
		return report
	}

	dist := math.Abs(got-want) / sigma
	report.SigmaDist = dist
	switch {
	case dist <= 3:
		report.Verdict = VerdictNominal
	case dist <= 6:
		report.Verdict = VerdictSuspicious
	default:
		report.Verdict = VerdictAnomalous
	}
	return report
}

// ProbToLLR converts a probability in (0, 1) to a log-likelihood ratio,
// the same log-odds transform used elsewhere in this codebase to combine
// independent pieces of clustering evidence, here applied to one worker's
// submission-quality signal rather than a transaction's ownership evidence.
func ProbToLLR(probability float64) float64 {
	if probability <= 0 {
		probability = 1e-9
	}
	if probability >= 1 {
		probability = 1 - 1e-9
	}
	return math.Log10(probability / (1 - probability))
}

// TrustTracker accumulates a running LLR-based trust score per worker
// username: every accepted submission nudges the score up, every dropped
// (ConfigMismatch) submission nudges it down. A very negative score flags
// a worker worth a manual look — surfaced in the collision server's stats
// endpoint as FlaggedWorkers.
type TrustTracker struct {
	scores map[string]float64
}

// NewTrustTracker returns an empty tracker.
func NewTrustTracker() *TrustTracker {
	return &TrustTracker{scores: make(map[string]float64)}
}

// RecordAccepted nudges username's score toward trust.
func (t *TrustTracker) RecordAccepted(username string) {
	t.scores[username] += ProbToLLR(0.95)
}

// RecordDropped nudges username's score toward distrust — a dropped
// record means its dp failed the DP predicate, which an honestly
// configured worker should essentially never produce.
func (t *TrustTracker) RecordDropped(username string) {
	t.scores[username] -= ProbToLLR(0.95)
}

// Score returns username's current accumulated LLR trust score.
func (t *TrustTracker) Score(username string) float64 {
	return t.scores[username]
}

// Flagged returns usernames whose score has fallen below threshold (a
// negative log10-odds threshold, e.g. -5, reached after about four more
// dropped than accepted records at log10(19) each).
func (t *TrustTracker) Flagged(threshold float64) []string {
	var out []string
	for user, score := range t.scores {
		if score < threshold {
			out = append(out, user)
		}
	}
	return out
}
