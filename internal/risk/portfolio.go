package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

const (
	portfolioDefaultLimit = 10
	portfolioMaxLimit     = 100
)

// PortfolioEntry is one dataset's latest snapshot, flattened for ranking.
type PortfolioEntry struct {
	DatasetID     string    `json:"dataset_id"`
	RiskScore     int       `json:"risk_score"`
	RiskLevel     string    `json:"risk_level"`
	SmoothedScore int       `json:"smoothed_score"`
	DeltaScore    float64   `json:"delta_score"`
	AccelScore    float64   `json:"accel_score"`
	CreatedAt     time.Time `json:"created_at"`
}

// PortfolioOverview ranks an owner's datasets three ways from the same
// latest-snapshot set.
type PortfolioOverview struct {
	Count               int              `json:"count"`
	TopRisk             []PortfolioEntry `json:"top_risk"`
	TopMovers           []PortfolioEntry `json:"top_movers"`
	FastestAccelerating []PortfolioEntry `json:"fastest_accelerating"`
}

// PortfolioStore returns the latest snapshot per dataset for one owner.
type PortfolioStore interface {
	LatestPerOwner(ctx context.Context, ownerID string) ([]models.RiskSnapshot, error)
}

// Portfolio builds owner-level risk overviews.
type Portfolio struct {
	store  PortfolioStore
	logger *zap.Logger
}

// NewPortfolio creates the portfolio ranker.
func NewPortfolio(store PortfolioStore, logger *zap.Logger) *Portfolio {
	return &Portfolio{store: store, logger: logger}
}

// Overview ranks the owner's datasets by smoothed score, |delta| and |accel|.
// limit is clamped to [1, 100]; zero or negative means the default of 10.
func (p *Portfolio) Overview(ctx context.Context, ownerID string, limit int) (*PortfolioOverview, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if limit <= 0 {
		limit = portfolioDefaultLimit
	}
	if limit > portfolioMaxLimit {
		limit = portfolioMaxLimit
	}

	snapshots, err := p.store.LatestPerOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshots: %w", err)
	}

	entries := make([]PortfolioEntry, 0, len(snapshots))
	for _, s := range snapshots {
		entry := PortfolioEntry{
			DatasetID:     s.DatasetID,
			RiskScore:     s.RiskScore,
			RiskLevel:     s.RiskLevel,
			SmoothedScore: s.SmoothedScore,
			CreatedAt:     s.CreatedAt,
		}
		if s.DeltaScore != nil {
			entry.DeltaScore = *s.DeltaScore
		}
		if s.AccelScore != nil {
			entry.AccelScore = *s.AccelScore
		}
		entries = append(entries, entry)
	}

	return &PortfolioOverview{
		Count:               len(entries),
		TopRisk:             rankBy(entries, limit, func(e PortfolioEntry) float64 { return float64(e.SmoothedScore) }),
		TopMovers:           rankBy(entries, limit, func(e PortfolioEntry) float64 { return math.Abs(e.DeltaScore) }),
		FastestAccelerating: rankBy(entries, limit, func(e PortfolioEntry) float64 { return math.Abs(e.AccelScore) }),
	}, nil
}

func rankBy(entries []PortfolioEntry, limit int, key func(PortfolioEntry) float64) []PortfolioEntry {
	ranked := make([]PortfolioEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return key(ranked[i]) > key(ranked[j])
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
