package models

import (
	"fmt"
	"strings"
)

// IssueStatus enum
type IssueStatus string

const (
	Pending    IssueStatus = "Pending"
	InProgress IssueStatus = "In Progress"
	Resolved   IssueStatus = "Resolved"
)

// Statuses lists every status in lifecycle order.
var Statuses = []IssueStatus{Pending, InProgress, Resolved}

// Forward moves any staff member may make.
var issueStatusTransitions = map[IssueStatus][]IssueStatus{
	Pending:    {InProgress, Resolved},
	InProgress: {Resolved},
	Resolved:   {},
}

// Backward moves out of the terminal state, admin only.
var issueReopenTransitions = map[IssueStatus][]IssueStatus{
	Resolved: {Pending, InProgress},
}

var statusOrder = map[IssueStatus]int{
	Pending:    1,
	InProgress: 2,
	Resolved:   3,
}

func (s IssueStatus) String() string {
	return string(s)
}

func (s IssueStatus) IsValid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Order is the position of the status in the lifecycle, 0 when unknown.
func (s IssueStatus) Order() int {
	return statusOrder[s]
}

func (s IssueStatus) IsTerminal() bool {
	return s == Resolved
}

func (s IssueStatus) CanTransitionTo(target IssueStatus) bool {
	return contains(issueStatusTransitions[s], target)
}

func (s IssueStatus) CanReopenTo(target IssueStatus) bool {
	return contains(issueReopenTransitions[s], target)
}

func contains(list []IssueStatus, s IssueStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus maps both the canonical names and the extended
// open/acknowledged/in_progress/resolved/closed vocabulary onto the
// three canonical statuses. Acknowledged issues are still Pending; the
// acknowledgement is carried by assignedTo and its timeline entry.
func ParseStatus(s string) (IssueStatus, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	switch key {
	case "pending", "open", "new", "acknowledged":
		return Pending, nil
	case "in progress", "inprogress":
		return InProgress, nil
	case "resolved", "closed":
		return Resolved, nil
	}
	return "", fmt.Errorf("invalid status: %q", s)
}
