package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// catalogFile is the on-disk TOML shape of a responder catalog.
type catalogFile struct {
	Responders []ResponderProfile `toml:"responders"`
}

// LoadCatalog reads responder profiles from a TOML catalog file.
func LoadCatalog(path string) ([]ResponderProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes responder profiles from TOML bytes.
func ParseCatalog(data []byte) ([]ResponderProfile, error) {
	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i := range file.Responders {
		if file.Responders[i].ReliabilityBaseline == 0 {
			file.Responders[i].ReliabilityBaseline = DefaultReliabilityBaseline
		}
		if err := file.Responders[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.Responders, nil
}

// DefaultReliabilityBaseline is used when a catalog entry does not supply
// an empirical success-rate prior.
const DefaultReliabilityBaseline = 0.5

// DefaultCatalog returns the built-in responder set so the system runs with
// zero configuration. Endpoints are base URLs for each provider's
// OpenAI-compatible chat surface; the HTTP responder appends the
// chat-completions path. Entries with a credential_env are unavailable
// until that variable is set.
func DefaultCatalog() []ResponderProfile {
	return []ResponderProfile{
		{
			Name:                "swift-mini",
			Lane:                LaneFast,
			Model:               "gpt-4o-mini",
			Endpoint:            "https://api.openai.com/v1",
			CredentialEnv:       "OPENAI_API_KEY",
			CostPerUnit:         0.002,
			TypicalLatencyMs:    1200,
			Priority:            1,
			ReliabilityBaseline: 0.74,
			Tags:                []string{"cheap", "draft"},
		},
		{
			Name:                "focus-standard",
			Lane:                LaneFocus,
			Model:               "gpt-4o",
			Endpoint:            "https://api.openai.com/v1",
			CredentialEnv:       "OPENAI_API_KEY",
			CostPerUnit:         0.01,
			TypicalLatencyMs:    4500,
			Priority:            1,
			ReliabilityBaseline: 0.85,
		},
		{
			Name:                "focus-claude",
			Lane:                LaneFocus,
			Model:               "claude-sonnet-4-20250514",
			Endpoint:            "https://api.anthropic.com/v1",
			CredentialEnv:       "ANTHROPIC_API_KEY",
			CostPerUnit:         0.012,
			TypicalLatencyMs:    5000,
			Priority:            2,
			ReliabilityBaseline: 0.86,
		},
		{
			Name:                "audit-opus",
			Lane:                LaneAudit,
			Model:               "claude-opus-4-20250514",
			Endpoint:            "https://api.anthropic.com/v1",
			CredentialEnv:       "ANTHROPIC_API_KEY",
			CostPerUnit:         0.06,
			TypicalLatencyMs:    9000,
			Priority:            1,
			ReliabilityBaseline: 0.9,
		},
		{
			Name:                "audit-gemini",
			Lane:                LaneAudit,
			Model:               "gemini-2.5-pro",
			Endpoint:            "https://generativelanguage.googleapis.com/v1beta/openai",
			CredentialEnv:       "GEMINI_API_KEY",
			CostPerUnit:         0.04,
			TypicalLatencyMs:    8000,
			Priority:            2,
			ReliabilityBaseline: 0.84,
		},
	}
}

// LoadOrDefault builds a registry from the catalog at path, falling back to
// the built-in catalog when path is empty or the file does not exist.
func LoadOrDefault(path string) (*Registry, error) {
	if path == "" {
		return New(DefaultCatalog())
	}
	profiles, err := LoadCatalog(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(DefaultCatalog())
		}
		return nil, err
	}
	return New(profiles)
}
