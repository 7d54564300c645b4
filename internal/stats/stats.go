// Package stats derives reporting figures from the case store.
package stats

import (
	"context"
	"math"
	"time"

	"caseflow/internal/repo"
)

// Statistics is the operational summary served to dashboards.
type Statistics struct {
	Total          int            `json:"total"`
	ByStage        map[string]int `json:"by_stage"`
	Rejected       int            `json:"rejected"`
	SuccessRate    int            `json:"success_rate"`
	MonthlyRevenue float64        `json:"monthly_revenue"`
}

type Aggregator struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Aggregator {
	return Aggregator{Repo: r, Now: time.Now}
}

func (a Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Compute takes a full snapshot. SuccessRate is the share of archived cases
// whose timeline carries a success marker, as a rounded percentage; it is
// zero while nothing is archived. MonthlyRevenue sums completed payments
// received in the current calendar month.
func (a Aggregator) Compute(ctx context.Context) (Statistics, error) {
	byStage, err := a.Repo.CountByStage(ctx)
	if err != nil {
		return Statistics{}, err
	}
	s := Statistics{ByStage: make(map[string]int, len(byStage))}
	for st, n := range byStage {
		s.ByStage[st.String()] = n
		s.Total += n
	}

	if s.Rejected, err = a.Repo.CountRejected(ctx); err != nil {
		return Statistics{}, err
	}
	s.Total += s.Rejected

	archived, succeeded, err := a.Repo.CountArchived(ctx)
	if err != nil {
		return Statistics{}, err
	}
	if archived > 0 {
		s.SuccessRate = int(math.Round(float64(succeeded) / float64(archived) * 100))
	}

	now := a.now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	s.MonthlyRevenue, err = a.Repo.SumCompletedPayments(ctx,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return Statistics{}, err
	}
	return s, nil
}
