package classify

import "fmt"

// Author classes. Sources classify as by_*, targets of reposts/quotes as
// of_*, reply targets as to_*; favorites key both axes by by_*.
const (
	ByUser     = "by_user"
	ByFollowed = "by_followed"
	ByOther    = "by_other"

	OfUser     = "of_user"
	OfFollowed = "of_followed"
	OfOther    = "of_other"

	ToUser     = "to_user"
	ToFollowed = "to_followed"
	ToOther    = "to_other"
)

// Interaction kinds.
const (
	KindRetweet  = "retweet"
	KindReply    = "reply"
	KindQuote    = "quote"
	KindTweet    = "tweet"
	KindMention  = "mention"
	KindFavorite = "favorite"
)

// Leaf is one policy decision: which of the involved posts get persisted.
type Leaf struct {
	Source bool `yaml:"source" json:"source"`
	Target bool `yaml:"target" json:"target"`
	Quoted bool `yaml:"quoted" json:"quoted"`
}

// Policy is the visibility table keyed by
// [source-author-class][interaction-kind][target-author-class]. Missing
// entries deny everything.
type Policy map[string]map[string]map[string]Leaf

// Leaf looks up a decision; absent paths yield the zero (deny-all) leaf.
func (p Policy) Leaf(src, kind, tgt string) Leaf {
	return p[src][kind][tgt]
}

var (
	srcClasses = map[string]bool{ByUser: true, ByFollowed: true, ByOther: true}
	knownKinds = map[string]bool{
		KindRetweet: true, KindReply: true, KindQuote: true,
		KindTweet: true, KindMention: true, KindFavorite: true,
	}
	tgtClassesByKind = map[string]map[string]bool{
		KindRetweet:  {OfUser: true, OfFollowed: true, OfOther: true},
		KindQuote:    {OfUser: true, OfFollowed: true, OfOther: true},
		KindTweet:    {OfUser: true, OfFollowed: true, OfOther: true},
		KindReply:    {ToUser: true, ToFollowed: true, ToOther: true},
		KindMention:  {ToUser: true},
		KindFavorite: {ByUser: true, ByFollowed: true, ByOther: true},
	}
)

// Validate rejects unknown table keys. Every classified item depends on the
// table, so a malformed entry is fatal at startup rather than skipped.
func (p Policy) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("policy table is empty")
	}
	for src, kinds := range p {
		if !srcClasses[src] {
			return fmt.Errorf("policy: unknown source class %q", src)
		}
		for kind, tgts := range kinds {
			if !knownKinds[kind] {
				return fmt.Errorf("policy: unknown kind %q under %q", kind, src)
			}
			for tgt := range tgts {
				if !tgtClassesByKind[kind][tgt] {
					return fmt.Errorf("policy: unknown target class %q under %s.%s", tgt, src, kind)
				}
			}
		}
	}
	return nil
}
