package app

import (
	"context"
	"math"

	"farmassist/pkg/domain"
	"farmassist/pkg/store"
)

const historyDays = 7

// Sensors lists a farmer's IoT sensors.
func (a *App) Sensors(ctx context.Context, userID string) ([]domain.Sensor, error) {
	return a.repos.Sensors.List(ctx, userID)
}

// AddSensor registers a sensor for userID.
func (a *App) AddSensor(ctx context.Context, userID string, in store.SensorInput) (domain.Sensor, error) {
	return a.repos.Sensors.Add(ctx, userID, in)
}

// RemoveSensor deletes a sensor. Removing an unknown sensor succeeds.
func (a *App) RemoveSensor(ctx context.Context, userID, sensorID string) error {
	return a.repos.Sensors.Remove(ctx, userID, sensorID)
}

// Vitals returns the stored crop vitals, or a synthetic reading when the
// farm has not reported any yet. The synthetic reading is not persisted.
func (a *App) Vitals(ctx context.Context, userID string) (domain.Vitals, error) {
	v, ok, err := a.repos.Vitals.Get(ctx, userID)
	if err != nil {
		return domain.Vitals{}, err
	}
	if ok {
		return v, nil
	}
	return a.defaultVitals(), nil
}

// UpdateVitals replaces the farm's vitals with a sensor reading.
func (a *App) UpdateVitals(ctx context.Context, userID string, v domain.Vitals) (domain.Vitals, error) {
	return a.repos.Vitals.Put(ctx, userID, v)
}

func (a *App) defaultVitals() domain.Vitals {
	return domain.Vitals{
		Moisture:    48,
		Temperature: 30,
		Humidity:    72,
		Rainfall:    12,
		CropStatus:  "Healthy",
		LastUpdated: a.now(),
		History: domain.VitalsHistory{
			Moisture:    a.series(45, 10),
			Temperature: a.series(28, 4),
			Humidity:    a.series(65, 10),
			Rainfall:    a.series(5, 15),
		},
	}
}

// series returns historyDays points drawn uniformly between lo and
// lo+spread, rounded to one decimal.
func (a *App) series(lo, spread float64) []domain.Point {
	points := make([]domain.Point, historyDays)
	for i := range points {
		value := lo + a.float()*spread
		points[i] = domain.Point{Day: i + 1, Value: math.Round(value*10) / 10}
	}
	return points
}

// Alerts lists a farmer's active alerts.
func (a *App) Alerts(ctx context.Context, userID string) ([]domain.Alert, error) {
	return a.repos.Alerts.List(ctx, userID)
}

// CreateAlert raises an alert for userID.
func (a *App) CreateAlert(ctx context.Context, userID string, in store.AlertInput) (domain.Alert, error) {
	return a.repos.Alerts.Create(ctx, userID, in)
}

// DismissAlert removes an alert. Dismissing twice succeeds.
func (a *App) DismissAlert(ctx context.Context, userID, alertID string) error {
	return a.repos.Alerts.Dismiss(ctx, userID, alertID)
}
