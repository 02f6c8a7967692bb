package statcheck

import "testing"

func TestCheckDPRateNominal(t *testing.T) {
	// dp_bits=8 -> want = 1/256. Simulate an exact-expectation sample.
	trials := int64(2_560_000)
	observed := trials / 256
	report := CheckDPRate(8, observed, trials)
	if report.Verdict != VerdictNominal {
		t.Fatalf("expected nominal, got %v (sigmaDist=%f)", report.Verdict, report.SigmaDist)
	}
}

func TestCheckDPRateAnomalous(t *testing.T) {
	trials := int64(2_560_000)
	// Zero observed DPs against a large trial count with dp_bits=8 is
	// wildly outside the expected rate — e.g. a kernel build with a
	// broken mask.
	report := CheckDPRate(8, 0, trials)
	if report.Verdict != VerdictAnomalous {
		t.Fatalf("expected anomalous, got %v", report.Verdict)
	}
}

func TestTrustTrackerFlagsRepeatedDrops(t *testing.T) {
	tr := NewTrustTracker()
	tr.RecordAccepted("alice")
	for i := 0; i < 10; i++ {
		tr.RecordDropped("eve")
	}

	flagged := tr.Flagged(-5)
	found := false
	for _, u := range flagged {
		if u == "eve" {
			found = true
		}
		if u == "alice" {
			t.Fatalf("alice should not be flagged: score=%f", tr.Score("alice"))
		}
	}
	if !found {
		t.Fatalf("expected eve to be flagged, scores: eve=%f", tr.Score("eve"))
	}
}

func TestProbToLLRClampsExtremes(t *testing.T) {
	if ProbToLLR(0) == 0 {
		t.Fatal("expected a large negative LLR for probability 0, not 0")
	}
	if ProbToLLR(1) <= 0 {
		t.Fatal("expected a large positive LLR for probability 1")
	}
}
