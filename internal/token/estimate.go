// Package token provides a cheap token-count heuristic used by the budget
// tracker and the context pruner. It deliberately avoids a real tokenizer:
// the estimate is O(serialized size) and accurate to within roughly ±10%,
// which is good enough for budget enforcement.
package token

import "encoding/json"

// charsPerToken is the average characters-per-token ratio for English prose
// and source code under common BPE tokenizers.
const charsPerToken = 4

// EstimateString estimates the token count of a string.
func EstimateString(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateBytes estimates the token count of a raw blob.
func EstimateBytes(b []byte) int {
	return EstimateString(string(b))
}

// Estimate estimates the token count of an arbitrary structured value by
// serializing it to JSON. Values that cannot be serialized count as zero.
func Estimate(v interface{}) int {
	if v == nil {
		return 0
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return EstimateBytes(data)
}
