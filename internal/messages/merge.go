// ABOUTME: Dedup-by-id merge of message slices preserving first-seen order
// ABOUTME: Merge is idempotent: merging the same page twice yields the same window

package messages

import "github.com/2389/coven-desk/internal/desk"

// Dedup returns msgs with later duplicates (by ID) removed, keeping the first
// occurrence of each id in place.
func Dedup(msgs []desk.Message) []desk.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]desk.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Merge concatenates front and back and deduplicates the result. Prepending
// an older page is Merge(page, window); appending is Merge(window, page).
func Merge(front, back []desk.Message) []desk.Message {
	combined := make([]desk.Message, 0, len(front)+len(back))
	combined = append(combined, front...)
	combined = append(combined, back...)
	return Dedup(combined)
}

// oldest returns the earliest server timestamp in page.
func oldest(page []desk.Message) (desk.Message, bool) {
	if len(page) == 0 {
		return desk.Message{}, false
	}
	first := page[0]
	for _, m := range page[1:] {
		if m.ServerTimestamp.Before(first.ServerTimestamp) {
			first = m
		}
	}
	return first, true
}
