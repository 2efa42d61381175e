// Package roles provides role lookup implementations for the
// permission gate.
package roles

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// ErrNoToken is returned when the request carries no bearer token.
var ErrNoToken = errors.New("no bearer token")

// Lookup mirrors the dispatch core's role lookup contract.
type Lookup func(r *http.Request, relpath string) ([]string, error)

// Fixed returns a lookup granting the same roles to every caller,
// useful in tests and single-tenant deployments.
func Fixed(roleNames ...string) Lookup {
	return func(*http.Request, string) ([]string, error) {
		return roleNames, nil
	}
}

// JWT returns a lookup reading role names from the "roles" claim of
// an HMAC-signed bearer token. Any parse or validation failure is
// returned as an error, which the gate treats as a denial.
func JWT(secret []byte) Lookup {
	return func(r *http.Request, relpath string) ([]string, error) {
		raw, err := bearerToken(r)
		if err != nil {
			return nil, err
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			return nil, err
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			return nil, errors.New("invalid token claims")
		}

		return roleNames(claims["roles"])
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", ErrNoToken
	}
	return strings.TrimSpace(auth[len(prefix):]), nil
}

func roleNames(claim interface{}) ([]string, error) {
	switch v := claim.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("non-string role %v", item)
			}
			names = append(names, name)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("unexpected roles claim of type %T", claim)
	}
}
