package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv("BACKSTAGE_LOG_HMAC_KEY", "")
	fp, err := ValidateSecurityConfig(Config{})
	require.NoError(t, err)
	require.False(t, fp.Keyed())

	_, err = ValidateSecurityConfig(Config{RequireLogHMAC: true})
	require.ErrorContains(t, err, "is missing")

	t.Setenv("BACKSTAGE_LOG_HMAC_KEY", "short")
	_, err = ValidateSecurityConfig(Config{RequireLogHMAC: true})
	require.ErrorContains(t, err, "too short")

	fp, err = ValidateSecurityConfig(Config{})
	require.NoError(t, err)
	require.True(t, fp.Keyed())

	t.Setenv("BACKSTAGE_LOG_HMAC_KEY", strings.Repeat("k", 32))
	fp, err = ValidateSecurityConfig(Config{RequireLogHMAC: true})
	require.NoError(t, err)
	require.True(t, fp.Keyed())
	require.Len(t, fp.Code("abc"), 16)
}
