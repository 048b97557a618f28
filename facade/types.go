package facade

// Response status discriminators. Every command returns a typed
// response carrying one of these, even on failure.
const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
	StatusSuccess      = "success"
	StatusError        = "error"
)

// Feed status values reported by ListFeeds.
const (
	FeedStatusActive   = "active"
	FeedStatusErroring = "erroring"
)

// SubscribedFeed describes a newly subscribed feed.
type SubscribedFeed struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	URL         string  `json:"url"`
	ItemCount   int     `json:"item_count"`
}

// SubscribeResponse is the result of Subscribe.
type SubscribeResponse struct {
	Status   string          `json:"status"`
	Feed     *SubscribedFeed `json:"feed,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// FeedSummary is one feed in a ListFeeds response.
type FeedSummary struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Status        string  `json:"status"`
	LastFetchedAt *string `json:"last_fetched_at"`
	ErrorCount    int     `json:"error_count"`
	LastError     *string `json:"last_error,omitempty"`
}

// ListFeedsResponse is the result of ListFeeds.
type ListFeedsResponse struct {
	Feeds []FeedSummary `json:"feeds"`
	Total int           `json:"total"`
}

// Item is the shaped entry payload shared by GetItems and SearchItems.
// Summary is truncated to a bounded preview length.
type Item struct {
	ID          int64   `json:"id"`
	FeedTitle   string  `json:"feed_title"`
	Title       string  `json:"title"`
	Link        *string `json:"link"`
	Summary     string  `json:"summary"`
	PublishedAt *string `json:"published_at"`
	IsRead      bool    `json:"is_read"`
}

// GetItemsRequest selects entries by optional feed, date range, and
// read state. Since and Until are ISO-8601 timestamps.
type GetItemsRequest struct {
	FeedIdentifier string `json:"feed_identifier,omitempty"`
	Since          string `json:"since,omitempty"`
	Until          string `json:"until,omitempty"`
	UnreadOnly     bool   `json:"unread_only,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// ItemsResponse is the result of GetItems and SearchItems.
type ItemsResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Items   []Item `json:"items"`
	Total   int    `json:"total"`
	HasMore bool   `json:"has_more"`
}

// UnsubscribeResponse is the result of Unsubscribe. On an ambiguous
// identifier, Matches lists the candidate feed titles.
type UnsubscribeResponse struct {
	Status    string   `json:"status"`
	FeedTitle string   `json:"feed_title,omitempty"`
	Message   string   `json:"message,omitempty"`
	Matches   []string `json:"matches,omitempty"`
}

// MarkReadRequest names entries and/or a whole feed to mark read.
type MarkReadRequest struct {
	ItemIDs        []int64 `json:"item_ids,omitempty"`
	FeedIdentifier string  `json:"feed_identifier,omitempty"`
}

// MarkResponse is the result of MarkRead and MarkUnread.
type MarkResponse struct {
	Status      string   `json:"status"`
	ItemsMarked int      `json:"items_marked"`
	Message     string   `json:"message,omitempty"`
	Matches     []string `json:"matches,omitempty"`
}
