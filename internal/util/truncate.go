package util

import "fmt"

// DefaultErrorBodyLen bounds remote response bodies kept in errors and logs.
const DefaultErrorBodyLen = 256

// Truncate cuts s to maxLen bytes and notes the original size.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// ErrorBody is Truncate for a response body at DefaultErrorBodyLen.
func ErrorBody(b []byte) string {
	return Truncate(string(b), DefaultErrorBodyLen)
}
