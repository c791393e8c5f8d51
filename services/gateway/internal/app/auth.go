package app

import (
	"context"
	"fmt"
	"strings"

	"farmassist/pkg/auth"
	"farmassist/pkg/domain"
	"farmassist/pkg/store"
)

// SignUpInput is the registration form.
type SignUpInput struct {
	Name     string
	Phone    string
	Email    string
	Password string
}

// SignUp registers a farmer account keyed by phone number.
func (a *App) SignUp(ctx context.Context, in SignUpInput) (domain.User, error) {
	const required = "Name, phone, and password are required"
	switch {
	case strings.TrimSpace(in.Name) == "":
		return domain.User{}, domain.Invalid("name", required)
	case strings.TrimSpace(in.Phone) == "":
		return domain.User{}, domain.Invalid("phone", required)
	case in.Password == "":
		return domain.User{}, domain.Invalid("password", required)
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, domain.Invalid("password", "%s", err.Error())
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	return a.repos.Users.Create(ctx, store.NewUser{
		Name:         in.Name,
		Phone:        in.Phone,
		Email:        in.Email,
		PasswordHash: hash,
	})
}

// Login checks the phone and password and issues a session token. Unknown
// phones and wrong passwords are indistinguishable to the caller.
func (a *App) Login(ctx context.Context, phone, password string) (domain.User, string, error) {
	if strings.TrimSpace(phone) == "" || password == "" {
		return domain.User{}, "", domain.Invalid("phone", "Phone and password are required")
	}
	user, hash, ok, err := a.repos.Users.ByPhone(ctx, phone)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok || !auth.CheckPassword(password, hash) {
		return domain.User{}, "", domain.ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// UserByToken resolves the account behind a session token.
func (a *App) UserByToken(ctx context.Context, token string) (domain.User, error) {
	userID, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	user, ok, err := a.repos.Users.ByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, domain.ErrUnauthorized
	}
	return user, nil
}
