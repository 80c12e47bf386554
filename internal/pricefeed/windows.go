package pricefeed

import "time"

// Venues cap the klines returned per request, so long ranges are fetched in windows.
const _maxKlinesPerRequest = 500

type window struct {
	Start time.Time
	End   time.Time
}

// splitRange cuts [from, to) into consecutive windows no longer than span.
func splitRange(from, to time.Time, span time.Duration) []window {
	if !from.Before(to) {
		return nil
	}
	if span <= 0 {
		return []window{{Start: from, End: to}}
	}

	windows := make([]window, 0, int(to.Sub(from)/span)+1)
	for current := from; current.Before(to); current = current.Add(span) {
		end := current.Add(span)
		if end.After(to) {
			end = to
		}
		windows = append(windows, window{Start: current, End: end})
	}
	return windows
}
