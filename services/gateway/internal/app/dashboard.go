package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"farmassist/pkg/domain"
	"farmassist/pkg/store"
)

// Dashboard is the landing-page summary for one farmer.
type Dashboard struct {
	Vitals         domain.Vitals       `json:"vitals"`
	Sensors        []domain.Sensor     `json:"sensors"`
	ActiveAlerts   int                 `json:"activeAlerts"`
	CriticalAlerts int                 `json:"criticalAlerts"`
	Claims         domain.ClaimSummary `json:"claims"`
}

// Dashboard reads vitals, sensors, alerts and claims concurrently. The
// first failing read cancels the others.
func (a *App) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	var (
		out    Dashboard
		alerts []domain.Alert
		claims []domain.Claim
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := a.Vitals(gctx, userID)
		out.Vitals = v
		return err
	})
	g.Go(func() error {
		s, err := a.Sensors(gctx, userID)
		out.Sensors = s
		return err
	})
	g.Go(func() error {
		var err error
		alerts, err = a.Alerts(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		claims, err = a.repos.Claims.List(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	for _, alert := range alerts {
		if alert.Dismissed {
			continue
		}
		out.ActiveAlerts++
		if alert.Severity == domain.SeverityCritical {
			out.CriticalAlerts++
		}
	}
	out.Claims = store.Summarize(claims)
	return out, nil
}
