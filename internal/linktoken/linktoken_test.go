package linktoken

import (
	"errors"
	"strings"
	"testing"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = "st-mary/homily/20240107_093000_Epiphany_homily.pdf"

func TestCodec_EncryptedRoundTrip(t *testing.T) {
	c := New("s3cret")
	require.True(t, c.Encrypted())

	token := c.Encode(key)
	assert.NotContains(t, token, "st-mary")
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "/")

	got, err := c.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestCodec_Deterministic(t *testing.T) {
	a := New("s3cret")
	b := New("s3cret")

	assert.Equal(t, a.Encode(key), a.Encode(key))
	assert.Equal(t, a.Encode(key), b.Encode(key))
	assert.NotEqual(t, a.Encode(key), a.Encode(key+"x"))
}

func TestCodec_WrongSecretRejected(t *testing.T) {
	token := New("one").Encode(key)

	_, err := New("two").Decode(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidLinkToken))
	assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
}

func TestCodec_PlainTokenRejectedWhenEncrypted(t *testing.T) {
	plain := New("").Encode(key)

	_, err := New("s3cret").Decode(plain)
	assert.Error(t, err)
}

func TestCodec_PlainRoundTrip(t *testing.T) {
	c := New("")
	require.False(t, c.Encrypted())

	token := c.Encode(key)
	got, err := c.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestCodec_ZeroValue(t *testing.T) {
	var c Codec
	got, err := c.Decode(c.Encode(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestCodec_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"not base64", "", "***"},
		{"empty plain", "", ""},
		{"too short", "s3cret", "YWJj"},
		{"tampered", "s3cret", tamper(New("s3cret").Encode(key))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.secret).Decode(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidLinkToken))
		})
	}
}

func tamper(token string) string {
	last := token[len(token)-1]
	replacement := "A"
	if last == 'A' {
		replacement = "B"
	}
	return strings.TrimSuffix(token, string(last)) + replacement
}
