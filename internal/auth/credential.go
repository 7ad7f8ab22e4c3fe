package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentworkforce/txnsync/internal/monzo"
)

// DefaultMaxAge keeps a margin under the five minute lifetime of API tokens.
const DefaultMaxAge = 4*time.Minute + 50*time.Second

var (
	ErrCredentialExpired = errors.New("credential expired, log in again")
	ErrNoCredential      = errors.New("no credential stored, log in first")
)

type Credential struct {
	AccessToken string    `json:"accessToken"`
	IssuedAt    time.Time `json:"issuedAt"`
}

func (c Credential) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.IssuedAt) >= maxAge
}

func LoadCredential(path string) (Credential, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("decode credential %s: %w", path, err)
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return Credential{}, ErrNoCredential
	}
	return cred, nil
}

// SaveCredential replaces the file at path atomically with owner-only
// permissions.
func SaveCredential(path string, cred Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// FileProvider reads the credential file on every call, so a fresh login is
// picked up without restarting.
func FileProvider(path string, maxAge time.Duration) monzo.TokenProvider {
	return fileProvider(path, maxAge, time.Now)
}

func fileProvider(path string, maxAge time.Duration, now func() time.Time) monzo.TokenProvider {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cred, err := LoadCredential(path)
		if err != nil {
			return "", err
		}
		if cred.Expired(now(), maxAge) {
			return "", fmt.Errorf("%w: issued %s", ErrCredentialExpired, cred.IssuedAt.UTC().Format(time.RFC3339))
		}
		return cred.AccessToken, nil
	}
}
