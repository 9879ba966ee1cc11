package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxPhotos bounds Issue.Photos.
const MaxPhotos = 5

// IssueCategory enum
type IssueCategory string

const (
	Roads      IssueCategory = "Roads"
	Lighting   IssueCategory = "Lighting"
	Sanitation IssueCategory = "Sanitation"
	Traffic    IssueCategory = "Traffic"
	Water      IssueCategory = "Water"
	Other      IssueCategory = "Other"
)

// Categories lists every category in display order.
var Categories = []IssueCategory{Roads, Lighting, Sanitation, Traffic, Water, Other}

func (c IssueCategory) IsValid() bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// ParseCategory accepts canonical names case-insensitively and the older
// category names used by earlier clients.
func ParseCategory(s string) (IssueCategory, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "roads", "road":
		return Roads, nil
	case "lighting", "electricity", "utilities":
		return Lighting, nil
	case "sanitation":
		return Sanitation, nil
	case "traffic", "noise":
		return Traffic, nil
	case "water":
		return Water, nil
	case "other", "general":
		return Other, nil
	}
	return "", fmt.Errorf("invalid category: %q", s)
}

// IssuePriority enum
type IssuePriority string

const (
	PriorityLow      IssuePriority = "low"
	PriorityNormal   IssuePriority = "normal"
	PriorityHigh     IssuePriority = "high"
	PriorityCritical IssuePriority = "critical"
)

// Priorities lists every priority from lowest to highest.
var Priorities = []IssuePriority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}

var priorityRanks = map[IssuePriority]int{
	PriorityLow:      1,
	PriorityNormal:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

func (p IssuePriority) IsValid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// Rank orders priorities for sorting; unknown values rank 0.
func (p IssuePriority) Rank() int {
	return priorityRanks[p]
}

// IsHigh is true for high and critical.
func (p IssuePriority) IsHigh() bool {
	return p.Rank() >= priorityRanks[PriorityHigh]
}

// ParsePriority accepts low/normal/high/critical and the Low/Medium/High scale.
func ParsePriority(s string) (IssuePriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "medium":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical", "urgent":
		return PriorityCritical, nil
	}
	return "", fmt.Errorf("invalid priority: %q", s)
}

// Location of a reported issue. Coordinates are [lng, lat] and never queried.
type Location struct {
	Address     string    `bson:"address" json:"address"`
	Ward        string    `bson:"ward,omitempty" json:"ward,omitempty"`
	Coordinates []float64 `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
}

// TimelineKind says what produced a timeline entry.
type TimelineKind string

const (
	TimelineCreated    TimelineKind = "created"
	TimelineStatus     TimelineKind = "status"
	TimelineAssignment TimelineKind = "assignment"
	TimelineComment    TimelineKind = "comment"
)

// TimelineEntry is immutable once appended.
type TimelineEntry struct {
	Kind   TimelineKind       `bson:"kind" json:"kind"`
	Status IssueStatus        `bson:"status" json:"status"`
	By     primitive.ObjectID `bson:"by" json:"by"`
	Note   string             `bson:"note,omitempty" json:"note,omitempty"`
	At     time.Time          `bson:"at" json:"at"`
}

// Issue represents a civic issue reported by a user
type Issue struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Title        string              `bson:"title" json:"title"`
	Description  string              `bson:"description" json:"description"`
	Category     IssueCategory       `bson:"category" json:"category"`
	Priority     IssuePriority       `bson:"priority" json:"priority"`
	PriorityRank int                 `bson:"priorityRank" json:"-"`
	Location     Location            `bson:"location" json:"location"`
	Photos       []string            `bson:"photos" json:"photos"`
	Status       IssueStatus         `bson:"status" json:"status"`
	CreatedBy    primitive.ObjectID  `bson:"createdBy" json:"createdBy"`
	AssignedTo   *primitive.ObjectID `bson:"assignedTo,omitempty" json:"assignedTo,omitempty"`
	Timeline     []TimelineEntry     `bson:"timeline" json:"timeline"`
	ResolvedAt   *time.Time          `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
	Version      int64               `bson:"version" json:"version"`
	CreatedAt    time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// IsOwnedBy reports whether userID reported the issue.
func (i *Issue) IsOwnedBy(userID primitive.ObjectID) bool {
	return !userID.IsZero() && i.CreatedBy == userID
}

// Clone returns a deep copy, so callers can never alias another copy's timeline.
func (i *Issue) Clone() *Issue {
	c := *i
	c.Photos = append([]string(nil), i.Photos...)
	c.Timeline = append([]TimelineEntry(nil), i.Timeline...)
	c.Location.Coordinates = append([]float64(nil), i.Location.Coordinates...)
	if i.AssignedTo != nil {
		a := *i.AssignedTo
		c.AssignedTo = &a
	}
	if i.ResolvedAt != nil {
		r := *i.ResolvedAt
		c.ResolvedAt = &r
	}
	return &c
}

// IssueTombstone keeps an audit snapshot of a deleted issue.
type IssueTombstone struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	IssueID   primitive.ObjectID `bson:"issueId" json:"issueId"`
	Title     string             `bson:"title" json:"title"`
	CreatedBy primitive.ObjectID `bson:"createdBy" json:"createdBy"`
	Status    IssueStatus        `bson:"status" json:"status"`
	Timeline  []TimelineEntry    `bson:"timeline" json:"timeline"`
	DeletedBy primitive.ObjectID `bson:"deletedBy" json:"deletedBy"`
	Reason    string             `bson:"reason,omitempty" json:"reason,omitempty"`
	DeletedAt time.Time          `bson:"deletedAt" json:"deletedAt"`
}
