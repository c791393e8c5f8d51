package store

import (
	"context"
	"sort"
	"strings"

	"farmassist/pkg/domain"
)

// AlertInput is the client-supplied part of an alert.
type AlertInput struct {
	Type        string
	Severity    domain.AlertSeverity
	Title       string
	Description string
	Action      string
}

// Alerts stores alerts under "alert:<userId>:<alertId>". Dismissing deletes.
type Alerts struct{ *base }

// List returns the user's alerts, newest first.
func (r *Alerts) List(ctx context.Context, userID string) ([]domain.Alert, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return nil, err
	}
	alerts, err := listJSON[domain.Alert](ctx, r.kv, ownedPrefix(entityAlert, userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Time.Equal(alerts[j].Time) {
			return alerts[i].ID > alerts[j].ID
		}
		return alerts[i].Time.After(alerts[j].Time)
	})
	return alerts, nil
}

// Create stores a new, undismissed alert.
func (r *Alerts) Create(ctx context.Context, userID string, in AlertInput) (domain.Alert, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Alert{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return domain.Alert{}, domain.Invalid("title", "title is required")
	}
	if !in.Severity.Valid() {
		return domain.Alert{}, domain.Invalid("severity", "severity must be one of critical, attention, safe")
	}
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		in.Type = "general"
	}
	id, now, err := r.uniqueID(ctx, "alert", alertID, func(id string) string {
		return ownedKey(entityAlert, userID, id)
	})
	if err != nil {
		return domain.Alert{}, err
	}
	alert := domain.Alert{
		ID:          id,
		Type:        in.Type,
		Severity:    in.Severity,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Action:      strings.TrimSpace(in.Action),
		Time:        now,
	}
	if err := r.kv.Set(ctx, ownedKey(entityAlert, userID, id), alert); err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

// Dismiss removes an alert. Dismissing twice is a no-op.
func (r *Alerts) Dismiss(ctx context.Context, userID, alertID string) error {
	if err := checkKeyPart("userId", userID); err != nil {
		return err
	}
	if err := checkKeyPart("alertId", alertID); err != nil {
		return err
	}
	return r.kv.Delete(ctx, ownedKey(entityAlert, userID, alertID))
}
