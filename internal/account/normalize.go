package account

import (
	"fmt"
	"strings"

	"golang.org/x/text/secure/precis"
)

// normalizeUsername canonicalizes usernames with the PRECIS UsernameCaseMapped
// profile so that visually equivalent names collide instead of coexisting.
func normalizeUsername(username string) (string, error) {
	normalized, err := precis.UsernameCaseMapped.String(strings.TrimSpace(username))
	if err != nil {
		return "", fmt.Errorf("invalid username: %w", err)
	}
	return normalized, nil
}

// normalizeEmail lowercases and trims the address; uniqueness checks operate
// on the normalized form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
