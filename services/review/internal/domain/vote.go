package domain

// VoteType is a like or dislike on a review.
type VoteType string

const (
	VoteLike    VoteType = "LIKE"
	VoteDislike VoteType = "DISLIKE"
)

// ValidVoteTypes returns all vote types.
func ValidVoteTypes() []VoteType {
	return []VoteType{VoteLike, VoteDislike}
}

// IsValidVoteType reports whether t is a known vote type.
func IsValidVoteType(t VoteType) bool {
	return t == VoteLike || t == VoteDislike
}

// Vote is one user's vote on one review.
type Vote struct {
	ReviewID string   `json:"review_id"`
	UserID   string   `json:"user_id"`
	Type     VoteType `json:"type"`
}

// NextVote returns the vote a user holds after casting intent while holding
// current: casting the held type clears it, anything else replaces it.
func NextVote(current *VoteType, intent VoteType) *VoteType {
	if current != nil && *current == intent {
		return nil
	}
	return &intent
}

// VoteTally is the like/dislike count of a review plus the viewer's own vote.
type VoteTally struct {
	Likes      int       `json:"likes"`
	Dislikes   int       `json:"dislikes"`
	ViewerVote *VoteType `json:"viewer_vote"`
}
