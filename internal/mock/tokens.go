package mock

// AvgCharsPerToken is the fixed approximation used to convert token counts to
// character spans and back.
const AvgCharsPerToken = 4

// TokensToChars converts a token count to an approximate character count.
func TokensToChars(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return tokens * AvgCharsPerToken
}

// CharsToTokens provides a rough token estimate (4 chars ~= 1 token), rounded up.
func CharsToTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + AvgCharsPerToken - 1) / AvgCharsPerToken
}
