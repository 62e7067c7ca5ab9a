package domain

// ReviewView is a review enriched for display.
type ReviewView struct {
	Review
	AuthorName      string  `json:"author_name"`
	AuthorAvatarURL *string `json:"author_avatar_url,omitempty"`
	EditionLabel    string  `json:"edition_label"`
	VoteTally
	IsOwn bool `json:"is_own"`
}

// ReviewPage is one page of a book's reviews. The viewer's own reviews come
// first, then everyone else's, both newest first.
type ReviewPage struct {
	Items      []ReviewView `json:"items"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
	HasNext    bool         `json:"has_next"`
}
