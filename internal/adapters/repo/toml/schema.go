package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	ID               string `toml:"id"`
	Email            string `toml:"email"`
	Method           string `toml:"method"`
	CustomerID       string `toml:"customer_id,omitempty"`
	ServiceID        string `toml:"service_id,omitempty"`
	SecretRef        string `toml:"secret_ref"`
	RefreshSecretRef string `toml:"refresh_secret_ref,omitempty"`
	CreatedAt        string `toml:"created_at,omitempty"`
}
