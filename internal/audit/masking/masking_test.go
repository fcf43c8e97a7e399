package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecretKeepsPrefixAndSuffix(t *testing.T) {
	assert.Equal(t, "sk_live_****7890", MaskSecret("sk_live_1234567890"))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskSensitiveOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"feature_code": "max_users",
		"api_key":      "key_abcdef123456",
		"nested":       map[string]any{"webhook_secret": "whsec_abcdefgh"},
		"":             "dropped",
		"value":        int64(20),
	})

	assert.Equal(t, "max_users", out["feature_code"])
	assert.Equal(t, "key_****3456", out["api_key"])
	assert.Equal(t, map[string]any{"webhook_secret": "whsec_****efgh"}, out["nested"])
	assert.Equal(t, int64(20), out["value"])
	assert.NotContains(t, out, "")
	assert.Nil(t, MaskSensitive(nil))
}
