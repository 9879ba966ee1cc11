package client

import (
	"io"
	"time"
)

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Phone      string    `json:"phone,omitempty"`
	Ward       string    `json:"ward,omitempty"`
	Department string    `json:"department,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AuthResult is returned by Signup and Login.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type TimelineEntry struct {
	Kind   string    `json:"kind"`
	Status string    `json:"status"`
	By     string    `json:"by"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Issue holds both representations; the detail-only fields are empty when
// the caller may only see the public summary.
type Issue struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	DescriptionHTML string          `json:"descriptionHtml,omitempty"`
	Category        string          `json:"category"`
	Priority        string          `json:"priority"`
	Status          string          `json:"status"`
	Address         string          `json:"address"`
	Ward            string          `json:"ward,omitempty"`
	Coordinates     []float64       `json:"coordinates,omitempty"`
	Photos          []string        `json:"photos"`
	ReporterName    string          `json:"reporterName,omitempty"`
	Reporter        *User           `json:"reporter,omitempty"`
	CreatedBy       string          `json:"createdBy,omitempty"`
	AssignedTo      string          `json:"assignedTo,omitempty"`
	Timeline        []TimelineEntry `json:"timeline,omitempty"`
	Votes           int64           `json:"votes"`
	UserHasVoted    bool            `json:"userHasVoted"`
	Version         int64           `json:"version,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type IssueList struct {
	Items      []Issue `json:"items"`
	Total      int64   `json:"total"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int     `json:"totalPages"`
}

// ListOptions are the query filters. Empty fields are not sent.
type ListOptions struct {
	Status   string
	Priority string
	Category string
	Ward     string
	Search   string
	SortBy   string
	Order    string
	Page     int
	Limit    int
}

type Location struct {
	Address   string   `json:"address"`
	Ward      string   `json:"ward,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type CreateIssueRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Location    Location `json:"location"`
	Photos      []string `json:"photos,omitempty"`
}

// Photo is a file sent with CreateIssueWithPhotos.
type Photo struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type VoteState struct {
	Voted bool  `json:"voted"`
	Votes int64 `json:"votes"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type Stats struct {
	Total            int64            `json:"total"`
	Pending          int64            `json:"pending"`
	InProgress       int64            `json:"inProgress"`
	Resolved         int64            `json:"resolved"`
	HighPriorityOpen int64            `json:"highPriorityOpen"`
	ByCategory       map[string]int64 `json:"byCategory,omitempty"`
	ByPriority       map[string]int64 `json:"byPriority,omitempty"`
	Last7Days        []DayCount       `json:"last7Days,omitempty"`
	Recent           []Issue          `json:"recent,omitempty"`
}
