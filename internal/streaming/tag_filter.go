package streaming

import "strings"

// upstream content arrives wrapped in reasoning and answer tags that can be
// split across chunk boundaries. TagFilter strips or keeps them statefully.

var filterTags = []string{"<think>", "</think>", "<answer>", "</answer>"}

// TagFilter removes <answer> markers from streamed content and, when
// keepThink is false, drops <think> blocks entirely. Partial tags at a chunk
// boundary are held back until the next Feed or Flush.
type TagFilter struct {
	keepThink bool
	inThink   bool
	pending   string
}

// NewTagFilter constructs a TagFilter.
func NewTagFilter(keepThink bool) *TagFilter {
	return &TagFilter{keepThink: keepThink}
}

// Feed processes the next chunk and returns the text safe to emit now.
func (f *TagFilter) Feed(chunk string) string {
	f.pending += chunk
	var out strings.Builder

	for {
		idx, tag := firstTag(f.pending)
		if idx < 0 {
			break
		}
		f.emit(&out, f.pending[:idx])
		f.pending = f.pending[idx+len(tag):]

		switch tag {
		case "<think>":
			if f.keepThink {
				out.WriteString(tag)
			}
			f.inThink = true
		case "</think>":
			if f.keepThink {
				out.WriteString(tag)
			}
			f.inThink = false
		}
		// answer tags are always dropped
	}

	hold := partialTagSuffix(f.pending)
	f.emit(&out, f.pending[:len(f.pending)-hold])
	f.pending = f.pending[len(f.pending)-hold:]
	return out.String()
}

// Flush returns any held-back text. Call once after the stream ends.
func (f *TagFilter) Flush() string {
	var out strings.Builder
	f.emit(&out, f.pending)
	f.pending = ""
	return out.String()
}

func (f *TagFilter) emit(out *strings.Builder, text string) {
	if text == "" {
		return
	}
	if f.inThink && !f.keepThink {
		return
	}
	out.WriteString(text)
}

func firstTag(s string) (int, string) {
	best := -1
	var bestTag string
	for _, tag := range filterTags {
		if idx := strings.Index(s, tag); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestTag = tag
		}
	}
	return best, bestTag
}

// partialTagSuffix reports how many trailing bytes of s could still grow
// into one of the tags.
func partialTagSuffix(s string) int {
	hold := 0
	for _, tag := range filterTags {
		limit := len(tag) - 1
		if limit > len(s) {
			limit = len(s)
		}
		for n := limit; n > hold; n-- {
			if strings.HasSuffix(s, tag[:n]) {
				hold = n
				break
			}
		}
	}
	return hold
}
