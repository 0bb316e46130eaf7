package logctx

import "sort"

// Returns a snapshot of the pending log queue formatted for inspection,
// oldest first. Used by tests to assert on buffered output without
// wiring an io.Writer watcher.
func (logger *Logger) GetFormattedLogLines() (formatted []string) {
	logger.mutex.Lock()
	events := make([]Event, len(logger.queue))
	copy(events, logger.queue)
	logger.mutex.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		ti, tj := events[i].Timestamp, events[j].Timestamp
		if ti.IsZero() || tj.IsZero() {
			return tj.IsZero() && !ti.IsZero()
		}
		return ti.Before(tj)
	})

	formatted = make([]string, 0, len(events))
	for _, event := range events {
		formatted = append(formatted, event.Format()+"\n")
	}
	return
}
