package store

import (
	"context"
	"strings"

	"farmassist/pkg/domain"
)

// VitalsRepo stores one vitals document per user under "vitals:<userId>".
type VitalsRepo struct{ *base }

// Get returns the stored vitals, if any.
func (r *VitalsRepo) Get(ctx context.Context, userID string) (domain.Vitals, bool, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Vitals{}, false, err
	}
	return getJSON[domain.Vitals](ctx, r.kv, vitalsKey(userID))
}

// Put replaces the user's vitals wholesale and stamps lastUpdated.
func (r *VitalsRepo) Put(ctx context.Context, userID string, v domain.Vitals) (domain.Vitals, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Vitals{}, err
	}
	if v.Moisture < 0 || v.Moisture > 100 {
		return domain.Vitals{}, domain.Invalid("moisture", "moisture must be between 0 and 100")
	}
	if v.Humidity < 0 || v.Humidity > 100 {
		return domain.Vitals{}, domain.Invalid("humidity", "humidity must be between 0 and 100")
	}
	if v.Rainfall < 0 {
		return domain.Vitals{}, domain.Invalid("rainfall", "rainfall must not be negative")
	}
	v.CropStatus = strings.TrimSpace(v.CropStatus)
	v.LastUpdated = r.now()
	if err := r.kv.Set(ctx, vitalsKey(userID), v); err != nil {
		return domain.Vitals{}, err
	}
	return v, nil
}
