package generator

import (
	"fmt"
	"strings"
)

// Supported completion providers.
const (
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// NormalizeProvider validates a provider name, defaulting to OpenAI when
// empty.
func NormalizeProvider(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return ProviderOpenAI, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case ProviderOpenAI, ProviderStatic:
		return normalized, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", value)
	}
}

// ResolveProvider picks the CLI-supplied provider when present, otherwise
// the configured one.
func ResolveProvider(cliValue, configValue string) (string, error) {
	if strings.TrimSpace(cliValue) != "" {
		return NormalizeProvider(cliValue)
	}
	return NormalizeProvider(configValue)
}
