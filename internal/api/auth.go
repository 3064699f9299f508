package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"
)

// Validator checks a bearer credential.
type Validator interface {
	Validate(ctx context.Context, token string) error
}

// AnyBearer accepts every non-empty token.
type AnyBearer struct{}

func (AnyBearer) Validate(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	return nil
}

// HMACValidator accepts HS256 JWTs signed with a shared secret.
type HMACValidator struct {
	Secret []byte
}

func (v HMACValidator) Validate(ctx context.Context, token string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.Secret, nil
	})
	return err
}

func requireBearer(v Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get(fiber.HeaderAuthorization)
		if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing bearer token")
		}
		token := strings.TrimSpace(auth[len("bearer "):])
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing bearer token")
		}
		if err := v.Validate(c.UserContext(), token); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}
		return c.Next()
	}
}
