package datasource

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Digits of the token timestamp are substituted with letters so the token
// never looks like a plain number. The mapping is shared with the other
// FeatBit SDKs and the server.
var tokenAlphabet = map[rune]rune{
	'0': 'Q', '1': 'B', '2': 'W', '3': 'S', '4': 'P',
	'5': 'H', '6': 'D', '7': 'X', '8': 'Z', '9': 'U',
}

// BuildToken produces a single-use token for the streaming handshake: the
// environment secret split at a random position, with the encoded split
// position, timestamp length and timestamp woven in.
func BuildToken(envSecret string) string {
	text := strings.TrimRight(envSecret, "=")
	now := time.Now().UnixMilli()
	timestampCode := encodeNumber(now, len(strconv.FormatInt(now, 10)))
	start := int(math.Max(math.Floor(rand.Float64()*float64(len(text))), 2)) //nolint:gosec // obfuscation, not crypto
	if start > len(text) {
		start = len(text)
	}

	var sb strings.Builder
	sb.WriteString(encodeNumber(int64(start), 3))
	sb.WriteString(encodeNumber(int64(len(timestampCode)), 2))
	sb.WriteString(text[:start])
	sb.WriteString(timestampCode)
	sb.WriteString(text[start:])
	return sb.String()
}

// encodeNumber zero-pads the number to the given length and maps every digit
// through the token alphabet.
func encodeNumber(num int64, length int) string {
	padded := "000000000000" + strconv.FormatInt(num, 10)
	padded = padded[len(padded)-length:]
	encoded := make([]rune, 0, length)
	for _, digit := range padded {
		encoded = append(encoded, tokenAlphabet[digit])
	}
	return string(encoded)
}
