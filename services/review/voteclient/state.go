// Package voteclient keeps a viewer's local vote state for one review and
// reconciles it with the review service. Intents are applied optimistically
// and rolled back when the server rejects them.
//
// The package depends only on the service's JSON contract, not on its
// internal types, so any Go client can import it.
package voteclient

// VoteType is a like or dislike, as sent to and returned by the service.
type VoteType string

const (
	Like    VoteType = "LIKE"
	Dislike VoteType = "DISLIKE"
)

// Valid reports whether v is a known vote type.
func (v VoteType) Valid() bool { return v == Like || v == Dislike }

// Tally is the server's canonical vote count for a review, plus the
// viewer's own vote.
type Tally struct {
	Likes      int       `json:"likes"`
	Dislikes   int       `json:"dislikes"`
	ViewerVote *VoteType `json:"viewer_vote"`
}

// State is what a client renders for one review's vote buttons.
type State struct {
	ViewerVote *VoteType `json:"viewer_vote"`
	Likes      int       `json:"likes"`
	Dislikes   int       `json:"dislikes"`
	// Disabled is set when the viewer wrote the review.
	Disabled bool `json:"disabled"`
}

// FromTally builds a State from a server tally.
func FromTally(t Tally, disabled bool) State {
	return State{
		ViewerVote: t.ViewerVote,
		Likes:      max(t.Likes, 0),
		Dislikes:   max(t.Dislikes, 0),
		Disabled:   disabled,
	}
}

// Reduce applies intent to s. Re-casting the held vote clears it, casting
// the other type switches it. Counts never go below zero, and a disabled
// state or unknown intent is returned unchanged.
func Reduce(s State, intent VoteType) State {
	if s.Disabled || !intent.Valid() {
		return s
	}

	next := s
	if s.ViewerVote != nil {
		next.adjust(*s.ViewerVote, -1)
	}
	if s.ViewerVote != nil && *s.ViewerVote == intent {
		next.ViewerVote = nil
		return next
	}
	next.ViewerVote = &intent
	next.adjust(intent, 1)
	return next
}

func (s *State) adjust(t VoteType, delta int) {
	switch t {
	case Like:
		s.Likes = max(s.Likes+delta, 0)
	case Dislike:
		s.Dislikes = max(s.Dislikes+delta, 0)
	}
}

// Equal reports whether two states render the same.
func (s State) Equal(o State) bool {
	if s.Likes != o.Likes || s.Dislikes != o.Dislikes || s.Disabled != o.Disabled {
		return false
	}
	if s.ViewerVote == nil || o.ViewerVote == nil {
		return s.ViewerVote == nil && o.ViewerVote == nil
	}
	return *s.ViewerVote == *o.ViewerVote
}
