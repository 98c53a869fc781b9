package model

import (
	"fmt"
	"time"
)

// RunResult represents the aggregated outcome of one pipeline run
type RunResult struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsPublished int       `json:"items_published"`
	Errors         []string  `json:"errors,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// Summarize fills Message from the processed/published/error counts.
func (r *RunResult) Summarize() {
	r.Message = fmt.Sprintf("processed: %d items, published: %d items", r.ItemsProcessed, r.ItemsPublished)
	if len(r.Errors) > 0 {
		r.Message += fmt.Sprintf(", errors: %d", len(r.Errors))
	}
}

// Item describes a single enumerable item discovered at a source location
type Item struct {
	Ref       string `json:"ref"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Uploader  string `json:"uploader,omitempty"`
}

// Artifact is the local result of acquiring one item. HostedRef carries
// the identifier assigned by a remote asset host when the acquirer
// uploaded the artifact as a side effect.
type Artifact struct {
	LocalPath string `json:"local_path"`
	HostedRef string `json:"hosted_ref,omitempty"`
}

// Destination identifies a publish target and its existing content count
type Destination struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug,omitempty"`
	Count int    `json:"count"`
}

// PublishReceipt records identifiers assigned by the destination store
type PublishReceipt struct {
	PostID       int64 `json:"post_id"`
	AttachmentID int64 `json:"attachment_id,omitempty"`
}
