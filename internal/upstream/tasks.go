package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/soragate/soragate/internal/store"
)

// PendingTask is one entry of the in-flight video listing.
type PendingTask struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	ProgressPct *float64 `json:"progress_pct"`
}

// Progress returns the task progress in whole percent. A null progress_pct
// means the backend has not started reporting yet.
func (t PendingTask) Progress() int {
	if t.ProgressPct == nil {
		return 0
	}
	return int(*t.ProgressPct * 100)
}

// PendingTasks lists video tasks still being generated.
func (c *Client) PendingTasks(ctx context.Context, cred store.Credential) ([]PendingTask, error) {
	var out []PendingTask
	if err := c.doJSON(ctx, cred, http.MethodGet, "/nf/pending/v2", nil, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Draft is a finished video generation, terminal result or violation.
type Draft struct {
	ID                string `json:"id"`
	TaskID            string `json:"task_id"`
	Kind              string `json:"kind"`
	ReasonStr         string `json:"reason_str"`
	MarkdownReasonStr string `json:"markdown_reason_str"`
	URL               string `json:"url"`
	DownloadableURL   string `json:"downloadable_url"`
}

// BestURL prefers the downloadable variant.
func (d Draft) BestURL() string {
	if d.DownloadableURL != "" {
		return d.DownloadableURL
	}
	return d.URL
}

// Violation reports whether the draft is a guardrail rejection instead of a
// result, with the backend's reason when it gives one.
func (d Draft) Violation() (string, bool) {
	reason := d.ReasonStr
	if reason == "" {
		reason = d.MarkdownReasonStr
	}
	if d.Kind == "sora_content_violation" || strings.TrimSpace(reason) != "" || d.BestURL() == "" {
		if strings.TrimSpace(reason) == "" {
			reason = "content violates guardrails"
		}
		return reason, true
	}
	return "", false
}

// Drafts lists recently finished video generations.
func (c *Client) Drafts(ctx context.Context, cred store.Credential, limit int) ([]Draft, error) {
	var out struct {
		Items []Draft `json:"items"`
	}
	path := fmt.Sprintf("/project_y/profile/drafts?limit=%d", limit)
	if err := c.doJSON(ctx, cred, http.MethodGet, path, nil, false, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ImageTask is one entry of the recent image task listing.
type ImageTask struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	ProgressPct  float64 `json:"progress_pct"`
	ErrorMessage string  `json:"error_message"`
	Generations  []struct {
		URL string `json:"url"`
	} `json:"generations"`
}

// URLs collects the generation result URLs.
func (t ImageTask) URLs() []string {
	var urls []string
	for _, g := range t.Generations {
		if g.URL != "" {
			urls = append(urls, g.URL)
		}
	}
	return urls
}

// Progress returns whole percent.
func (t ImageTask) Progress() int {
	return int(t.ProgressPct * 100)
}

// ImageTasks lists recent image tasks.
func (c *Client) ImageTasks(ctx context.Context, cred store.Credential, limit int) ([]ImageTask, error) {
	var out struct {
		TaskResponses []ImageTask `json:"task_responses"`
	}
	path := fmt.Sprintf("/v2/recent_tasks?limit=%d", limit)
	if err := c.doJSON(ctx, cred, http.MethodGet, path, nil, false, &out); err != nil {
		return nil, err
	}
	return out.TaskResponses, nil
}
