package issuance

import "time"

// BufferCount reports how many non-proxy buffers are currently held,
// whichever role they issue for, for status reporting.
func (e *Engine) BufferCount() int {
	n := 0
	for _, entry := range e.buffers.snapshot() {
		if !entry.isProxy {
			n++
		}
	}
	return n
}

// RefreshStatusSummary reports, per buffer key, whether a refresh is
// currently pending — the "refresh_status_summary" admin field (§6).
func (e *Engine) RefreshStatusSummary() map[string]bool {
	out := make(map[string]bool)
	for key, entry := range e.buffers.snapshot() {
		out[keyString(key)] = entry.buf.NeedsRefresh()
	}
	return out
}

// RecoverStuckRefreshes force-clears the refresh flag on any buffer whose
// last refresh attempt predates threshold, an operator-invoked variant of
// the same stuck-refresh recovery §4.3 already performs lazily on the next
// TryMarkRefresh call. Returns the keys it reset.
func (e *Engine) RecoverStuckRefreshes(threshold time.Duration) []string {
	var recovered []string
	for key, entry := range e.buffers.snapshot() {
		if !entry.buf.NeedsRefresh() {
			continue
		}
		last := entry.buf.LastRefreshAttempt()
		if last.IsZero() || time.Since(last) <= threshold {
			continue
		}
		entry.buf.ClearRefresh()
		recovered = append(recovered, keyString(key))
	}
	return recovered
}
