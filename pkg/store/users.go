package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farmassist/pkg/domain"
)

// userRecord is the persisted form of a user. The hash never leaves this package
// through domain.User.
type userRecord struct {
	domain.User
	PasswordHash string `json:"passwordHash"`
}

// NewUser carries the validated signup input.
type NewUser struct {
	Name         string
	Phone        string
	Email        string
	PasswordHash string
}

// Users stores accounts under "user:<phone>" with a "userId:<id>" reverse index.
type Users struct{ *base }

// Create registers a user. A second signup with the same phone fails with a
// ConflictError and leaves the existing record untouched.
func (r *Users) Create(ctx context.Context, in NewUser) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" {
		return domain.User{}, domain.Invalid("name", "Name, phone, and password are required")
	}
	if err := checkKeyPart("phone", in.Phone); err != nil {
		return domain.User{}, err
	}
	if in.PasswordHash == "" {
		return domain.User{}, domain.Invalid("password", "Name, phone, and password are required")
	}

	taken, err := r.exists(ctx, userKey(in.Phone))
	if err != nil {
		return domain.User{}, err
	}
	if taken {
		return domain.User{}, &domain.ConflictError{Message: "User already exists with this phone number"}
	}

	id, now, err := r.uniqueID(ctx, "user", newUserID, userIDKey)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:        id,
		Name:      in.Name,
		Phone:     in.Phone,
		Email:     in.Email,
		FarmerID:  fmt.Sprintf("AGR%d-%04d", now.Year(), 1000+r.intn(9000)),
		CreatedAt: now,
	}
	if err := r.kv.Set(ctx, userKey(in.Phone), userRecord{User: user, PasswordHash: in.PasswordHash}); err != nil {
		return domain.User{}, err
	}
	// Without its index the account could never be resolved from a token,
	// and the phone would stay taken.
	if err := r.kv.Set(ctx, userIDKey(user.ID), user.Phone); err != nil {
		if derr := r.kv.Delete(ctx, userKey(in.Phone)); derr != nil {
			return domain.User{}, errors.Join(err, derr)
		}
		return domain.User{}, err
	}
	return user, nil
}

// ByPhone returns the user and its password hash.
func (r *Users) ByPhone(ctx context.Context, phone string) (domain.User, string, bool, error) {
	rec, ok, err := getJSON[userRecord](ctx, r.kv, userKey(strings.TrimSpace(phone)))
	if err != nil || !ok {
		return domain.User{}, "", false, err
	}
	return rec.User, rec.PasswordHash, true, nil
}

// ByID resolves a user through the reverse index.
func (r *Users) ByID(ctx context.Context, id string) (domain.User, bool, error) {
	phone, ok, err := getJSON[string](ctx, r.kv, userIDKey(id))
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	user, _, ok, err := r.ByPhone(ctx, phone)
	return user, ok, err
}
