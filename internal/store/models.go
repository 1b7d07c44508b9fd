package store

import (
	"encoding/json"
	"time"
)

type CredentialStatus string

const (
	CredHealthy     CredentialStatus = "healthy"
	CredCoolingDown CredentialStatus = "cooling_down"
	CredExhausted   CredentialStatus = "exhausted"
	CredDisabled    CredentialStatus = "disabled"
)

// Credential is one upstream account the gateway can submit jobs under.
// Rows are never deleted, only disabled.
type Credential struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name   string `gorm:"type:varchar(128)" json:"name"`
	Secret string `gorm:"type:text;not null" json:"-"`

	Status   CredentialStatus `gorm:"type:varchar(16);index;not null;default:'healthy'" json:"status"`
	PlanType string           `gorm:"type:varchar(32)" json:"plan_type"` // chatgpt_pro unlocks pro tiers
	ProxyURL string           `gorm:"type:varchar(255)" json:"proxy_url"`

	ImageEnabled bool `gorm:"not null;default:true" json:"image_enabled"`
	VideoEnabled bool `gorm:"not null;default:true" json:"video_enabled"`

	Failures      int        `gorm:"not null;default:0" json:"failures"`
	Cooldowns     int        `gorm:"not null;default:0" json:"cooldowns"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`

	// Read from the secret's JWT exp claim at load time.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Credential) TableName() string { return "credentials" }

func (c *Credential) Pro() bool { return c.PlanType == "chatgpt_pro" }

type JobStatus string

const (
	JobSubmitted JobStatus = "submitted"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobExpired   JobStatus = "expired"
)

// JobRecord is the persisted terminal state of one upstream generation job.
type JobRecord struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID

	TaskID       string `gorm:"type:varchar(64);index" json:"task_id"` // upstream id
	CredentialID uint   `gorm:"index;not null" json:"credential_id"`

	Model  string `gorm:"type:varchar(64);not null" json:"model"`
	Kind   string `gorm:"type:varchar(32);not null" json:"kind"`
	Prompt string `gorm:"type:text" json:"prompt"`

	Status   JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Progress int       `gorm:"not null;default:0" json:"progress"`

	// JSON array of result URLs, filled when succeeded.
	ResultURLs string  `gorm:"type:text" json:"result_urls,omitempty"`
	Error      *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (JobRecord) TableName() string { return "jobs" }

// SetResultURLs stores the URL list as JSON; empty lists clear the column.
func (r *JobRecord) SetResultURLs(urls []string) {
	if len(urls) == 0 {
		r.ResultURLs = ""
		return
	}
	raw, err := json.Marshal(urls)
	if err != nil {
		return
	}
	r.ResultURLs = string(raw)
}

// GetResultURLs decodes the stored JSON list.
func (r *JobRecord) GetResultURLs() []string {
	if r.ResultURLs == "" {
		return nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(r.ResultURLs), &urls); err != nil {
		return nil
	}
	return urls
}

// RequestLog rows are written by cmd/worker from the audit queue.
type RequestLog struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	JobID        string `gorm:"size:26;index"`
	CredentialID uint   `gorm:"index"`
	Operation    string `gorm:"type:varchar(32);not null"`
	Detail       string `gorm:"type:text"`
	CreatedAt    time.Time
}

func (RequestLog) TableName() string { return "request_logs" }
