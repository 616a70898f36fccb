package classify

import (
	"strconv"
	"time"

	"perch/internal/model"
)

// maxNesting bounds the normalization recursion. The feed produces at most
// two embedded levels (repost of a quote); anything deeper is best-effort.
const maxNesting = 3

// Normalize rewrites a post into its canonical form: extended payload merged
// and the truncation flag cleared, full-length text promoted over the
// truncated text, and a millisecond timestamp derived from the textual
// creation date when absent. Applies recursively into repost and quote.
func Normalize(p *model.Post) {
	normalize(p, 0)
}

func normalize(p *model.Post, depth int) {
	if p == nil || depth >= maxNesting {
		return
	}
	if p.Extended != nil {
		if p.Extended.FullText != "" {
			p.FullText = p.Extended.FullText
		}
		if p.Extended.Entities != nil {
			p.Entities = p.Extended.Entities
		}
		p.Extended = nil
		p.Truncated = false
	}
	if p.FullText != "" {
		p.Text = p.FullText
		p.FullText = ""
	}
	if p.TimestampMS == "" && p.CreatedAt != "" {
		if t, err := time.Parse(time.RubyDate, p.CreatedAt); err == nil {
			p.TimestampMS = strconv.FormatInt(t.UnixMilli(), 10)
		}
	}
	normalize(p.Repost, depth+1)
	normalize(p.Quoted, depth+1)
}
