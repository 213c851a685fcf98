// Package fraud scores proposed recovery requests for suspicious patterns.
//
// Every initiation is evaluated against 3 additive rules: recent-attempt
// velocity, owner self-transfer, and guardian coverage. Scores range from
// 0 (safe) to 100. A request is admitted only when no rule triggered.
package fraud

import (
	"strings"
	"time"
)

// Rule scores, additive and order-independent.
const (
	ScoreRecentAttempts     = 30
	ScoreOwnerSelfTransfer  = 50
	ScoreInsufficientActive = 20

	// AdmissionThreshold is the score at or above which a request is
	// always rejected. Callers must not rely on the threshold alone:
	// any triggered rule also produces an indicator, and admission
	// requires an empty indicator list.
	AdmissionThreshold = 70

	// RecentWindow is the trailing window for attempt-velocity scoring.
	RecentWindow = 7 * 24 * time.Hour

	// MaxRecentAttempts is the number of requests inside RecentWindow
	// above which the velocity rule triggers.
	MaxRecentAttempts = 2
)

// Indicator strings, stable for caller branching and user display.
const (
	IndicatorRecentAttempts     = "multiple recent attempts"
	IndicatorOwnerSelfTransfer  = "new owner matches current owner"
	IndicatorInsufficientActive = "insufficient active guardians"
)

// Assessment is the result of scoring one proposed request.
type Assessment struct {
	RiskScore  int      `json:"riskScore"`
	Indicators []string `json:"indicators"`
}

// Admissible reports whether the proposed request may be admitted.
func (a Assessment) Admissible() bool {
	return a.RiskScore < AdmissionThreshold && len(a.Indicators) == 0
}

// Input carries the data needed to score a proposed request.
// Populated from the request store and guardian registry — no extra queries.
type Input struct {
	WalletIdentity        string
	ProposedNewOwner      string
	RecentInitiations     []time.Time // initiation times of prior requests for this wallet
	ActiveVerifiedGuards  int
	Threshold             int
	Now                   time.Time // zero means time.Now()
}

// Score evaluates a proposed recovery request. Pure computation.
func Score(in Input) Assessment {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	var a Assessment

	cutoff := now.Add(-RecentWindow)
	recent := 0
	for _, ts := range in.RecentInitiations {
		if ts.After(cutoff) {
			recent++
		}
	}
	if recent > MaxRecentAttempts {
		a.RiskScore += ScoreRecentAttempts
		a.Indicators = append(a.Indicators, IndicatorRecentAttempts)
	}

	if strings.EqualFold(in.ProposedNewOwner, in.WalletIdentity) {
		a.RiskScore += ScoreOwnerSelfTransfer
		a.Indicators = append(a.Indicators, IndicatorOwnerSelfTransfer)
	}

	if in.ActiveVerifiedGuards < in.Threshold {
		a.RiskScore += ScoreInsufficientActive
		a.Indicators = append(a.Indicators, IndicatorInsufficientActive)
	}

	if a.RiskScore > 100 {
		a.RiskScore = 100
	}
	return a
}
