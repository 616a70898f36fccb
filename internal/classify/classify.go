package classify

import (
	"fmt"

	"perch/internal/model"
	"perch/internal/util"
)

// Engine classifies normalized feed items against the visibility policy.
// It reads the tracked user's ID and the live following set; it never
// mutates either.
type Engine struct {
	UserID string
	Sets   *model.Sets
	Policy Policy
}

func New(userID string, sets *model.Sets, policy Policy) *Engine {
	return &Engine{UserID: userID, Sets: sets, Policy: policy}
}

func (e *Engine) class(prefix, authorID string) string {
	switch {
	case authorID != "" && authorID == e.UserID:
		return prefix + "_user"
	case e.Sets.Has(model.SetFollowing, authorID):
		return prefix + "_followed"
	default:
		return prefix + "_other"
	}
}

func (e *Engine) byClass(id string) string { return e.class("by", id) }
func (e *Engine) ofClass(id string) string { return e.class("of", id) }
func (e *Engine) toClass(id string) string { return e.class("to", id) }

// postRecord tags an emitted post by authorship.
func (e *Engine) postRecord(p *model.Post) model.Record {
	typ := model.RecOtherTweet
	if p.AuthorID() == e.UserID {
		typ = model.RecUserTweet
	}
	return model.Record{Type: typ, Data: p}
}

// stub replaces an embedded post with its minimal {id, author id} reference
// so exactly one full copy is ever emitted per processing pass.
func stub(p *model.Post) *model.Post {
	return &model.Post{ID: p.ID, Author: p.Author.Stub()}
}

func handle(p *model.Post) string {
	if p == nil {
		return "?"
	}
	if s, ok := p.Author["screen_name"].(string); ok && s != "" {
		return s
	}
	return p.AuthorID()
}

func preview(p *model.Post) string {
	return util.Truncate(util.NormalizeWhitespace(p.Text), 120)
}

// Classify turns one inbound post into zero or more typed records.
// Dispatch precedence: repost, reply, quote, own standalone post, mention;
// first match wins. silent suppresses the display-log line (backfill).
func (e *Engine) Classify(p *model.Post, silent bool) []model.Record {
	if p == nil || p.ID == "" {
		return nil
	}
	Normalize(p)
	src := e.byClass(p.AuthorID())
	var out []model.Record
	var display string

	switch {
	case p.Repost != nil:
		tgt := p.Repost
		q := tgt.Quoted
		leaf := e.Policy.Leaf(src, KindRetweet, e.ofClass(tgt.AuthorID()))
		full := *tgt
		if q != nil {
			full.Quoted = stub(q)
		}
		p.Repost = stub(tgt)
		if leaf.Source {
			out = append(out, e.postRecord(p))
		}
		if leaf.Target {
			out = append(out, e.postRecord(&full))
		}
		if leaf.Quoted && q != nil {
			out = append(out, e.postRecord(q))
		}
		display = fmt.Sprintf("repost by @%s of @%s: %s", handle(p), handle(tgt), preview(tgt))

	case p.ReplyToID != "" || p.ReplyToUser != "":
		q := p.Quoted
		if q != nil {
			p.Quoted = stub(q)
		}
		leaf := e.Policy.Leaf(src, KindReply, e.toClass(p.ReplyToUser))
		if leaf.Source {
			out = append(out, e.postRecord(p))
		}
		if leaf.Quoted && q != nil {
			out = append(out, e.postRecord(q))
		}
		display = fmt.Sprintf("reply by @%s to %s: %s", handle(p), p.ReplyToUser, preview(p))

	case p.Quoted != nil:
		q := p.Quoted
		p.Quoted = stub(q)
		leaf := e.Policy.Leaf(src, KindQuote, e.ofClass(q.AuthorID()))
		if leaf.Source {
			out = append(out, e.postRecord(p))
		}
		if leaf.Target {
			out = append(out, e.postRecord(q))
		}
		display = fmt.Sprintf("quote by @%s of @%s: %s", handle(p), handle(q), preview(p))

	case p.AuthorID() == e.UserID:
		leaf := e.Policy.Leaf(ByUser, KindTweet, OfUser)
		if leaf.Source {
			out = append(out, e.postRecord(p))
		}
		display = fmt.Sprintf("post by @%s: %s", handle(p), preview(p))

	case e.mentionsUser(p):
		leaf := e.Policy.Leaf(src, KindMention, ToUser)
		if leaf.Source {
			out = append(out, e.postRecord(p))
		}
		display = fmt.Sprintf("mention by @%s: %s", handle(p), preview(p))

	default:
		return nil
	}

	if !silent && display != "" {
		out = append(out, model.Record{Type: model.RecDisplay, Data: display})
	}
	return out
}

func (e *Engine) mentionsUser(p *model.Post) bool {
	for _, m := range p.Mentions() {
		if m.ID == e.UserID {
			return true
		}
	}
	return false
}

// ClassifyFavorite emits the favorite/unfavorite record for an event, keyed
// by post ID and the event's millisecond timestamp (falling back to the
// post's creation time). A favorite also re-runs the policy check against
// the favorited post's author, keyed by by-classes on both axes.
func (e *Engine) ClassifyFavorite(actor model.Profile, p *model.Post, tsMS string, unfav, silent bool) []model.Record {
	if p == nil || p.ID == "" {
		return nil
	}
	Normalize(p)
	if tsMS == "" {
		tsMS = p.TimestampMS
	}
	typ := model.RecFavorite
	verb := "favorite"
	if unfav {
		typ = model.RecUnfavorite
		verb = "unfavorite"
	}
	out := []model.Record{{Type: typ, Data: model.FavoriteData{
		PostID:      p.ID,
		AuthorID:    p.AuthorID(),
		TimestampMS: tsMS,
	}}}
	if !unfav {
		leaf := e.Policy.Leaf(e.byClass(actor.ID()), KindFavorite, e.byClass(p.AuthorID()))
		if leaf.Target {
			if q := p.Quoted; q != nil {
				p.Quoted = stub(q)
			}
			out = append(out, e.postRecord(p))
		}
	}
	if !silent {
		line := fmt.Sprintf("%s by %s of @%s: %s", verb, actor.ID(), handle(p), preview(p))
		out = append(out, model.Record{Type: model.RecDisplay, Data: line})
	}
	return out
}

// ClassifyReplyTarget handles a backfilled reply ancestor: it IS the target,
// so it classifies purely by its own author plus any embedded quote,
// ignoring reply direction entirely.
func (e *Engine) ClassifyReplyTarget(p *model.Post, silent bool) []model.Record {
	if p == nil || p.ID == "" {
		return nil
	}
	Normalize(p)
	var out []model.Record
	if q := p.Quoted; q != nil {
		p.Quoted = stub(q)
		leaf := e.Policy.Leaf(e.byClass(p.AuthorID()), KindQuote, e.ofClass(q.AuthorID()))
		if leaf.Target || leaf.Quoted {
			out = append(out, e.postRecord(q))
		}
	}
	out = append(out, e.postRecord(p))
	if !silent {
		line := fmt.Sprintf("reply target @%s: %s", handle(p), preview(p))
		out = append(out, model.Record{Type: model.RecDisplay, Data: line})
	}
	return out
}

// CheckReply returns the in-reply-to post ID when the policy wants that
// reply-target relationship, enabling selective ancestor backfill.
func (e *Engine) CheckReply(p *model.Post) string {
	if p == nil || p.ReplyToID == "" {
		return ""
	}
	leaf := e.Policy.Leaf(e.byClass(p.AuthorID()), KindReply, e.toClass(p.ReplyToUser))
	if leaf.Target {
		return p.ReplyToID
	}
	return ""
}
