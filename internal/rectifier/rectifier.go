// Package rectifier implements the one-shot thinking-signature recovery:
// when a Claude upstream rejects a request with 400 because a thinking
// block's signature is stale, or because max_tokens is too small for the
// accumulated thinking budget, the request body is repaired in place and
// retried once against the same provider.
package rectifier

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// The signatureSignal and tokensSignal constants are the signal phrases that
// identify a recoverable 400, matched case-insensitively and independent of
// exact upstream wording.
const (
	signatureSignal1 = "invalid"
	signatureSignal2 = "signature"
	tokensSignal1    = "must be greater"
	tokensSignal2    = "_tokens"
)

// IsRecoverable reports whether errBody (the raw upstream 400 error body)
// indicates a thinking-block signature mismatch or an undersized max_tokens,
// either of which this package knows how to repair.
func IsRecoverable(errBody []byte) bool {
	msg := strings.ToLower(string(errBody))
	if strings.Contains(msg, signatureSignal1) && strings.Contains(msg, signatureSignal2) {
		return true
	}
	if strings.Contains(msg, tokensSignal1) && strings.Contains(msg, tokensSignal2) {
		return true
	}
	return false
}

// Rectify rewrites requestBody to work around the class of error identified
// by errBody: stale thinking-block signatures are stripped, or max_tokens is
// clamped upward to a safe minimum. It returns the rewritten body and
// whether a change was actually made (a false here means the same error will
// likely recur and the attempt should fall through to normal handling).
func Rectify(requestBody, errBody []byte) ([]byte, bool) {
	msg := strings.ToLower(string(errBody))

	if strings.Contains(msg, signatureSignal1) && strings.Contains(msg, signatureSignal2) {
		return stripSignatures(requestBody)
	}
	if strings.Contains(msg, tokensSignal1) && strings.Contains(msg, tokensSignal2) {
		return clampMaxTokens(requestBody)
	}
	return requestBody, false
}

// stripSignatures removes the "signature" field from every thinking content
// block in the messages array, forcing the upstream to treat the block as
// fresh rather than rejecting a stale signature.
func stripSignatures(body []byte) ([]byte, bool) {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body, false
	}

	changed := false
	result := body
	messages.ForEach(func(msgIdx, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(blockIdx, block gjson.Result) bool {
			if block.Get("type").String() != "thinking" {
				return true
			}
			if !block.Get("signature").Exists() {
				return true
			}
			path := "messages." + msgIdx.String() + ".content." + blockIdx.String() + ".signature"
			if next, err := sjson.DeleteBytes(result, path); err == nil {
				result = next
				changed = true
			}
			return true
		})
		return true
	})
	return result, changed
}

// minSafeMaxTokens is the floor Rectify clamps max_tokens to when the
// upstream reports it as too small relative to the thinking budget.
const minSafeMaxTokens = 1024

func clampMaxTokens(body []byte) ([]byte, bool) {
	current := gjson.GetBytes(body, "max_tokens")
	if !current.Exists() || current.Int() >= minSafeMaxTokens {
		return body, false
	}
	next, err := sjson.SetBytes(body, "max_tokens", minSafeMaxTokens)
	if err != nil {
		return body, false
	}
	return next, true
}
