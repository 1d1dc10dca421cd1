package audit_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/shale-yeah/kernel/audit"
)

func TestRedactSensitiveProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	sensitiveNames := gen.OneConstOf("apiKey", "token", "secret", "password", "credentials", "authHeader", "bearerToken", "api_key")
	safeNames := gen.OneConstOf("tract", "depth", "basin", "formation", "wellCount")

	properties.Property("sensitive keys are redacted at any depth", prop.ForAll(
		func(sensitive, safe, value string, depth int) bool {
			inner := map[string]any{sensitive: value, safe: value}
			payload := inner
			for i := 0; i < depth; i++ {
				payload = map[string]any{"level": payload}
			}
			out := audit.RedactSensitive(payload)
			for i := 0; i < depth; i++ {
				out = out["level"].(map[string]any)
			}
			return out[sensitive] == "[REDACTED]" && out[safe] == value
		},
		sensitiveNames, safeNames, gen.AlphaString(), gen.IntRange(0, 5),
	))

	properties.Property("redaction is idempotent", prop.ForAll(
		func(sensitive, value string) bool {
			payload := map[string]any{sensitive: value}
			once := audit.RedactSensitive(payload)
			twice := audit.RedactSensitive(once)
			return twice[sensitive] == "[REDACTED]"
		},
		sensitiveNames, gen.AlphaString(),
	))

	properties.Property("key matching is case insensitive", prop.ForAll(
		func(sensitive, value string) bool {
			payload := map[string]any{strings.ToUpper(sensitive): value}
			out := audit.RedactSensitive(payload)
			return out[strings.ToUpper(sensitive)] == "[REDACTED]"
		},
		sensitiveNames, gen.AlphaString(),
	))

	properties.TestingRun(t)
}
