package observability

import "strings"

// Redact returns s with any of the given secret values replaced by a fixed
// placeholder. Credentials injected into the sandbox (the LLM token, the
// forge token) must never appear in logs or error messages per §9's
// secret-handling design note; callers pass the live secret set before
// logging anything derived from sandbox or webhook input.
func Redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	return s
}
