package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// Role enum
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

var validRoles = map[Role]bool{
	RoleCitizen: true,
	RoleStaff:   true,
	RoleAdmin:   true,
}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	return validRoles[r]
}

// HandlesIssues reports whether the role belongs to city staff.
func (r Role) HandlesIssues() bool {
	return r == RoleStaff || r == RoleAdmin
}

// ParseRole accepts the canonical roles plus the legacy "user" spelling.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "citizen", "user":
		return RoleCitizen, nil
	case "staff", "officer":
		return RoleStaff, nil
	case "admin":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("invalid role: %q", s)
}

type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Email      string             `bson:"email" json:"email"`
	Password   string             `bson:"password,omitempty" json:"-"`
	Role       Role               `bson:"role" json:"role"`
	Phone      string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Ward       string             `bson:"ward,omitempty" json:"ward,omitempty"`
	Department string             `bson:"department,omitempty" json:"department,omitempty"`
	IsActive   bool               `bson:"isActive" json:"isActive"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// NormalizeEmail is applied before every email lookup and write.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword replaces the plaintext Password with its bcrypt hash.
func (u *User) HashPassword() error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashed)
	return nil
}

func (u *User) ComparePassword(candidate string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(candidate))
	return err == nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// CompareDummyPassword spends the same bcrypt work as ComparePassword
// against a hash no password matches. Logins for unknown emails call it
// so they take as long as a wrong password.
func CompareDummyPassword(candidate string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("no-account-"+primitive.NewObjectID().Hex()), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(candidate))
}
