package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	secretService   = "agentflow"
	apiTokenAccount = "api_token"
)

// Keychain reads and writes secrets.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the file-backed secret store.
func NewKeychain() Keychain {
	return secretsReader{path: secretsFilePath()}
}

// secretsReader stores secrets as {service: {account: value}} in a 0600 JSON
// file next to the data directory.
type secretsReader struct {
	path string
}

func (s secretsReader) file() string {
	if s.path != "" {
		return s.path
	}
	return secretsFilePath()
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "agentflow", "secrets.json")
}

func (s secretsReader) readAll() (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.file())
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (s secretsReader) Get(service, account string) (string, error) {
	secrets, err := s.readAll()
	if err != nil {
		return "", fmt.Errorf("secret store not available: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return "", fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return val, nil
}

func (s secretsReader) Set(service, account, value string) error {
	secrets, err := s.readAll()
	if err != nil || secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	p := s.file()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

// GetAPIToken returns the bearer token guarding the management API,
// generating and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("AGENTFLOW_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(secretService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return tok, nil
}
