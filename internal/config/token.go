package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	tokenService = "kino"
	tokenAccount = "api_token"
)

// GetAPIToken returns the bearer token protecting the local HTTP API.
// KINO_API_TOKEN wins when set; otherwise the token lives in the platform
// secret store and is generated on first use.
func GetAPIToken() (string, error) {
	if t := os.Getenv("KINO_API_TOKEN"); t != "" {
		return t, nil
	}

	if out, err := keychainExec(tokenService, tokenAccount); err == nil {
		if t := strings.TrimSpace(string(out)); t != "" {
			return t, nil
		}
	}

	token := uuid.NewString()
	if err := keychainSet(tokenService, tokenAccount, token); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return token, nil
}
