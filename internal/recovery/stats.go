package recovery

import "time"

// Statistics aggregates recovery outcomes across all requests.
type Statistics struct {
	TotalRecoveryAttempts            int     `json:"totalRecoveryAttempts"`
	SuccessfulRecoveries             int     `json:"successfulRecoveries"`
	CancelledRecoveries              int     `json:"cancelledRecoveries"`
	AverageApprovalTimeHours         float64 `json:"averageApprovalTimeHours"`
	AverageGuardianResponseTimeHours float64 `json:"averageGuardianResponseTimeHours"`
	MostActiveGuardian               string  `json:"mostActiveGuardian,omitempty"`
}

// ComputeStatistics derives aggregate metrics from a scan of requests.
//
// Approval time is the span between a request's first and last recorded
// approval, averaged over requests with at least one approval. Guardian
// response time is the lag from initiation to each approval, averaged
// over all approvals. The most active guardian is the identity with the
// highest approval count, ties broken by first encountered.
func ComputeStatistics(reqs []*Request) Statistics {
	var stats Statistics
	stats.TotalRecoveryAttempts = len(reqs)

	var (
		approvalSpanTotal time.Duration
		approvalSpanCount int
		responseTotal     time.Duration
		responseCount     int
		guardianCounts    = make(map[string]int)
		guardianOrder     []string
	)

	for _, req := range reqs {
		switch req.Status {
		case StatusExecuted:
			stats.SuccessfulRecoveries++
		case StatusCancelled:
			stats.CancelledRecoveries++
		}

		if len(req.Approvals) > 0 {
			first, last := req.Approvals[0].ApprovedAt, req.Approvals[0].ApprovedAt
			for _, a := range req.Approvals {
				if a.ApprovedAt.Before(first) {
					first = a.ApprovedAt
				}
				if a.ApprovedAt.After(last) {
					last = a.ApprovedAt
				}
			}
			approvalSpanTotal += last.Sub(first)
			approvalSpanCount++
		}

		for _, a := range req.Approvals {
			responseTotal += a.ApprovedAt.Sub(req.InitiatedAt)
			responseCount++

			if _, seen := guardianCounts[a.GuardianIdentity]; !seen {
				guardianOrder = append(guardianOrder, a.GuardianIdentity)
			}
			guardianCounts[a.GuardianIdentity]++
		}
	}

	if approvalSpanCount > 0 {
		stats.AverageApprovalTimeHours = approvalSpanTotal.Hours() / float64(approvalSpanCount)
	}
	if responseCount > 0 {
		stats.AverageGuardianResponseTimeHours = responseTotal.Hours() / float64(responseCount)
	}

	best := 0
	for _, identity := range guardianOrder {
		if guardianCounts[identity] > best {
			best = guardianCounts[identity]
			stats.MostActiveGuardian = identity
		}
	}
	return stats
}
