package datasource

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenDigits = map[rune]rune{
	'Q': '0', 'B': '1', 'W': '2', 'S': '3', 'P': '4',
	'H': '5', 'D': '6', 'X': '7', 'Z': '8', 'U': '9',
}

func decodeNumber(encoded string) (int64, bool) {
	digits := make([]rune, 0, len(encoded))
	for _, ch := range encoded {
		digit, ok := tokenDigits[ch]
		if !ok {
			return 0, false
		}
		digits = append(digits, digit)
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	return n, err == nil
}

func TestBuildToken(t *testing.T) {
	const secret = "ZDMzLTY3NDEtNCUyMDIxMDkxNzA2MjUyNf=="
	trimmed := strings.TrimRight(secret, "=")

	for i := 0; i < 20; i++ {
		token := BuildToken(secret)

		start, ok := decodeNumber(token[:3])
		require.True(t, ok, token)
		require.GreaterOrEqual(t, start, int64(2))
		require.LessOrEqual(t, start, int64(len(trimmed)))

		tsLen, ok := decodeNumber(token[3:5])
		require.True(t, ok, token)

		// the secret is split at the random position with the encoded
		// timestamp woven in between
		assert.Equal(t, trimmed[:start], token[5:5+start])
		timestamp, ok := decodeNumber(token[5+start : 5+start+int64(tsLen)])
		require.True(t, ok, token)
		assert.InDelta(t, time.Now().UnixMilli(), timestamp, 5000)
		assert.Equal(t, trimmed[start:], token[5+start+tsLen:])
	}
}

func TestBuildTokenNeverEmbedsPadding(t *testing.T) {
	token := BuildToken("abcd==")
	assert.NotContains(t, token, "=")
}
