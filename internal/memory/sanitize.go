package memory

// Sanitize prepares a stored history for replay to the remote API.
// A trailing unanswered user turn means the previous exchange crashed
// mid-flight; the API rejects two consecutive same-role entries, so the
// orphan is dropped. The result is then trimmed to the newest max
// entries. Pure transform, the input slice is not modified.
func Sanitize(history []Turn, max int) []Turn {
	n := len(history)
	if n > 0 && history[n-1].Role == "user" {
		n--
	}
	out := history[:n]
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	cp := make([]Turn, len(out))
	copy(cp, out)
	return cp
}
