package store

import (
	"context"
	"sort"
	"strings"

	"farmassist/pkg/domain"
)

// SensorInput is the client-supplied part of a sensor.
type SensorInput struct {
	Name     string
	Type     string
	Location string
}

// Sensors stores IoT sensors under "sensor:<userId>:<sensorId>".
type Sensors struct{ *base }

// List returns the user's sensors in the order they were added.
func (r *Sensors) List(ctx context.Context, userID string) ([]domain.Sensor, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return nil, err
	}
	sensors, err := listJSON[domain.Sensor](ctx, r.kv, ownedPrefix(entitySensor, userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sensors, func(i, j int) bool {
		if sensors[i].AddedAt.Equal(sensors[j].AddedAt) {
			return sensors[i].ID < sensors[j].ID
		}
		return sensors[i].AddedAt.Before(sensors[j].AddedAt)
	})
	return sensors, nil
}

// Add registers a sensor in the connected state.
func (r *Sensors) Add(ctx context.Context, userID string, in SensorInput) (domain.Sensor, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Sensor{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.TrimSpace(in.Type)
	if in.Name == "" {
		return domain.Sensor{}, domain.Invalid("name", "name is required")
	}
	if in.Type == "" {
		return domain.Sensor{}, domain.Invalid("type", "type is required")
	}
	id, now, err := r.uniqueID(ctx, "sensor", sensorID, func(id string) string {
		return ownedKey(entitySensor, userID, id)
	})
	if err != nil {
		return domain.Sensor{}, err
	}
	sensor := domain.Sensor{
		ID:       id,
		Name:     in.Name,
		Type:     in.Type,
		Location: strings.TrimSpace(in.Location),
		Status:   domain.SensorConnected,
		AddedAt:  now,
	}
	if err := r.kv.Set(ctx, ownedKey(entitySensor, userID, id), sensor); err != nil {
		return domain.Sensor{}, err
	}
	return sensor, nil
}

// Remove deletes a sensor. Removing an unknown sensor is not an error.
func (r *Sensors) Remove(ctx context.Context, userID, sensorID string) error {
	if err := checkKeyPart("userId", userID); err != nil {
		return err
	}
	if err := checkKeyPart("sensorId", sensorID); err != nil {
		return err
	}
	return r.kv.Delete(ctx, ownedKey(entitySensor, userID, sensorID))
}
