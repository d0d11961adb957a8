package exchange

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		message  string
		expected string
	}{
		{
			name:     "simple message",
			key:      "secret",
			message:  "hello",
			expected: "88aab3ede8d3adf94d26ab90d3bafd4a2083070c3bcce9c014ee04a443847c0b",
		},
		{
			name:     "empty message",
			key:      "test_key",
			message:  "",
			expected: "d056b2b640f407a9daeba0b13c3b3966e5b69e84283ec3c7fa0cac56a02208a7",
		},
		{
			name:     "json payload with nonce",
			key:      "my_private_key",
			message:  `{"instr_name":"AAPL.US","action_id":1}1234567890`,
			expected: "a1b37308c843d2c3d206063447cbc24d60c9eef7bff93c2f2263addb05fec2e6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sign(tt.key, tt.message))
		})
	}
}

func TestStringify(t *testing.T) {
	t.Run("compact json without trailing newline", func(t *testing.T) {
		got, err := stringify(map[string]string{"cmd": "getPositionJson"})
		require.NoError(t, err)
		assert.Equal(t, `{"cmd":"getPositionJson"}`, got)
	})

	t.Run("html characters are not escaped", func(t *testing.T) {
		got, err := stringify(map[string]string{"q": "a&b"})
		require.NoError(t, err)
		assert.Equal(t, `{"q":"a&b"}`, got)
	})
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"AAPL.US", "AAPL"},
		{"aapl.us", "AAPL"},
		{"  TSLA.US  ", "TSLA"},
		{"MSFT", "MSFT"},
		{"BRK.B.US", "BRK"},
		{".US", ".US"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeSymbol(tt.in), "input %q", tt.in)
	}
}

func TestNextNonce_StrictlyIncreasing(t *testing.T) {
	c := NewClient("key", "secret", "http://localhost", zerolog.Nop())
	defer c.Close()

	prev := ""
	for i := 0; i < 100; i++ {
		n := c.nextNonce()
		assert.Greater(t, n, prev, "nonce must strictly increase")
		prev = n
	}
}
