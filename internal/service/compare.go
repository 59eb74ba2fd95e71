package service

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/rrh1441/agentops-replay/internal/domain/kpi"
	"github.com/rrh1441/agentops-replay/internal/domain/rating"
	"github.com/rrh1441/agentops-replay/internal/port/llm"
)

// compareParallelism caps how many model configurations run at once.
const compareParallelism = 4

// varianceFlagThreshold is the cross-model spread (percent) above
// which a disagreement flag is raised.
const varianceFlagThreshold = 10

// Comparator runs the same input under several model configurations
// and reports how much the models disagree.
type Comparator struct {
	analyzer *Analyzer
	catalog  llm.Catalog
}

// NewComparator creates a Comparator on top of an Analyzer.
func NewComparator(a *Analyzer, catalog llm.Catalog) *Comparator {
	return &Comparator{analyzer: a, catalog: catalog}
}

// ModelRun is one model's outcome within a comparison.
type ModelRun struct {
	ModelKey  string         `json:"modelKey"`
	SessionID string         `json:"sessionId,omitempty"`
	KPIs      *kpi.KPIs      `json:"kpis,omitempty"`
	Valid     bool           `json:"valid"`
	Rating    *rating.Rating `json:"rating,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Comparison is the aggregate outcome across all requested models.
type Comparison struct {
	Runs           []ModelRun `json:"runs"`
	AgreementScore int        `json:"agreementScore"`
	Flags          []string   `json:"flags"`
}

// Compare analyzes the same input under each model key in parallel.
// A single model's failure is reported in its run slot, not fatal to
// the comparison.
func (c *Comparator) Compare(ctx context.Context, data []byte, filename string, modelKeys []string) (*Comparison, error) {
	if len(modelKeys) == 0 {
		return nil, fmt.Errorf("compare: at least one model key is required")
	}
	for _, key := range modelKeys {
		if _, err := c.catalog.Config(key); err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
	}

	runs := make([]ModelRun, len(modelKeys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compareParallelism)
	for i, key := range modelKeys {
		g.Go(func() error {
			runs[i] = ModelRun{ModelKey: key}
			res, err := c.analyzer.Analyze(gctx, AnalysisRequest{
				Filename: filename,
				Data:     bytes.NewReader(data),
				ModelKey: key,
			})
			if err != nil {
				runs[i].Error = err.Error()
				return nil
			}
			runs[i].SessionID = res.SessionID
			k := res.KPIs
			runs[i].KPIs = &k
			runs[i].Valid = res.Valid
			r := res.Rating
			runs[i].Rating = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}

	cmp := &Comparison{Runs: runs}
	cmp.AgreementScore, cmp.Flags = c.score(runs, modelKeys)
	return cmp, nil
}

// score computes the cross-model agreement and disagreement flags.
func (c *Comparator) score(runs []ModelRun, modelKeys []string) (int, []string) {
	var (
		revenues []float64
		ebitdas  []float64
		flags    []string
	)
	for _, r := range runs {
		if r.KPIs == nil {
			continue
		}
		revenues = append(revenues, r.KPIs.Revenue)
		ebitdas = append(ebitdas, r.KPIs.EBITDA)
	}
	if len(ebitdas) < 2 {
		return 100, nil
	}

	revSpread := spreadPercent(revenues)
	ebitdaSpread := spreadPercent(ebitdas)

	if revSpread > varianceFlagThreshold {
		flags = append(flags, fmt.Sprintf("revenue variance: %.1f%%", revSpread))
	}
	if ebitdaSpread > varianceFlagThreshold {
		flags = append(flags, fmt.Sprintf("ebitda variance: %.1f%% (models disagree)", ebitdaSpread))
	}

	nonDeterministic := 0
	for _, key := range modelKeys {
		cfg, err := c.catalog.Config(key)
		if err == nil && cfg.Temperature > 0 {
			nonDeterministic++
		}
	}
	if nonDeterministic > 0 {
		flags = append(flags, fmt.Sprintf("%d model(s) using temperature > 0", nonDeterministic))
	}

	score := 100 - int(math.Round(math.Max(revSpread, ebitdaSpread)))
	if score < 0 {
		score = 0
	}
	return score, flags
}

// spreadPercent is (max-min) over the series' largest magnitude as a
// percentage, 0 for a flat or empty series. Normalizing by magnitude
// rather than by the maximum keeps a real spread visible when the
// maximum itself is zero.
func spreadPercent(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	scale := math.Max(math.Abs(lo), math.Abs(hi))
	if scale == 0 {
		return 0
	}
	return (hi - lo) / scale * 100
}
