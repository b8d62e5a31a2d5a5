package stellar

import (
	"encoding/base64"
	"strings"
)

const (
	memoTypeText = "text"
	memoTypeHash = "hash"
)

// MemoMatches reports whether a Horizon memo carries reference. Text memos
// hold the reference verbatim. A dashed UUID exceeds the 28 byte text limit,
// so hash memos holding its 32 hex characters without dashes also match.
func MemoMatches(memoType, memo, reference string) bool {
	if reference == "" {
		return false
	}
	switch memoType {
	case memoTypeText:
		return memo == reference
	case memoTypeHash:
		raw, err := base64.StdEncoding.DecodeString(memo)
		if err != nil {
			return false
		}
		compact := strings.ReplaceAll(strings.ToLower(reference), "-", "")
		return string(raw) == compact
	default:
		return false
	}
}

// HashMemo returns the 32 byte hash memo a wallet attaches for reference.
func HashMemo(reference string) [32]byte {
	var out [32]byte
	copy(out[:], strings.ReplaceAll(strings.ToLower(reference), "-", ""))
	return out
}
