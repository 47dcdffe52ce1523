package config

import (
	"net/url"
	"strings"
)

// maskSecret masks a secret, keeping only the first and last 4 characters.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}

	if len(secret) < 8 {
		return "***"
	}

	prefix := secret[:4]
	suffix := secret[len(secret)-4:]
	masked := strings.Repeat("*", len(secret)-8)

	return prefix + masked + suffix
}

// maskWebhookURL masks the path and query of a webhook URL, which commonly
// embed tokens, while keeping the host visible for diagnostics.
func maskWebhookURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return maskSecret(raw)
	}

	if u.Path == "" || u.Path == "/" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/" + maskSecret(strings.TrimPrefix(u.Path, "/"))
}

// Masked returns a copy of the configuration with secrets replaced by masked
// values, safe for display.
func (c *Config) Masked() Config {
	out := *c
	out.Broker.Password = maskSecret(c.Broker.Password)
	out.LLM.OpenAI.APIKey = maskSecret(c.LLM.OpenAI.APIKey)
	out.Alert.WebhookURL = maskWebhookURL(c.Alert.WebhookURL)
	return out
}
