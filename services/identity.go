package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"civictrack/apperrors"
	"civictrack/auth"
	"civictrack/logger"
	"civictrack/models"
	"civictrack/store"
	"civictrack/utils"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const minPasswordLength = 6

var validate = validator.New()

type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	Role       models.Role
	Phone      string
	Ward       string
	Department string
}

// ProfileInput changes only the non-nil fields. NewPassword requires CurrentPassword.
type ProfileInput struct {
	Name            *string
	Email           *string
	Phone           *string
	Ward            *string
	CurrentPassword string
	NewPassword     string
}

// IdentityService owns accounts and credentials.
type IdentityService struct {
	users  store.UserStore
	tokens *auth.TokenCodec
	now    func() time.Time
	log    *slog.Logger
}

func NewIdentityService(users store.UserStore, tokens *auth.TokenCodec) *IdentityService {
	return &IdentityService{
		users:  users,
		tokens: tokens,
		now:    time.Now,
		log:    logger.WithComponent("identity"),
	}
}

// Register creates a citizen account from public signup.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Role = models.RoleCitizen
	return s.CreateUser(ctx, in)
}

// CreateUser creates an account with any role. It backs the admin
// endpoint and the create-admin command.
func (s *IdentityService) CreateUser(ctx context.Context, in RegisterInput) (*models.User, error) {
	if in.Role == "" {
		in.Role = models.RoleCitizen
	}
	user, err := newUser(in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := s.users.GetUserByEmail(ctx, user.Email); err == nil {
		return nil, apperrors.NewDuplicateEmailError()
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	if err := user.HashPassword(); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user registered", "user_id", user.ID.Hex(), "role", user.Role)
	return user, nil
}

func newUser(in RegisterInput) (*models.User, error) {
	var details []apperrors.FieldError
	name := utils.CleanText(in.Name)
	if name == "" {
		details = append(details, apperrors.FieldError{Field: "name", Message: "is required"})
	} else if len(name) > 100 {
		details = append(details, apperrors.FieldError{Field: "name", Message: "must be at most 100 characters"})
	}
	email := models.NormalizeEmail(in.Email)
	if err := validate.Var(email, "required,email"); err != nil {
		details = append(details, apperrors.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if len(in.Password) < minPasswordLength {
		details = append(details, apperrors.FieldError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)})
	}
	if !in.Role.IsValid() {
		details = append(details, apperrors.FieldError{Field: "role", Message: "must be one of: citizen, staff, admin"})
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("Request validation failed", details...)
	}

	return &models.User{
		Name:       name,
		Email:      email,
		Password:   in.Password,
		Role:       in.Role,
		Phone:      utils.CleanText(in.Phone),
		Ward:       utils.CleanText(in.Ward),
		Department: utils.CleanText(in.Department),
		IsActive:   true,
	}, nil
}

var compareDummyPassword = models.CompareDummyPassword

// Authenticate returns a signed token. Unknown email, wrong password and
// deactivated accounts all fail the same way.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			compareDummyPassword(password)
			return "", nil, apperrors.NewInvalidCredentialsError()
		}
		return "", nil, fmt.Errorf("lookup email: %w", err)
	}
	if !user.ComparePassword(password) || !user.IsActive {
		return "", nil, apperrors.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// ResolvePrincipal turns verified claims into the caller. The role comes
// from the stored user, so role changes apply to existing tokens.
func (s *IdentityService) ResolvePrincipal(ctx context.Context, claims *auth.Claims) (*auth.Principal, error) {
	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, apperrors.NewInvalidTokenError()
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewInvalidTokenError()
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, apperrors.NewForbiddenError("This account has been deactivated")
	}
	return &auth.Principal{UserID: user.ID, Role: user.Role}, nil
}

func (s *IdentityService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("User")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *IdentityService) ListAll(ctx context.Context) ([]*models.User, error) {
	return s.ListUsers(ctx, store.UserFilter{})
}

func (s *IdentityService) ListUsers(ctx context.Context, filter store.UserFilter) ([]*models.User, error) {
	users, err := s.users.ListUsers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *IdentityService) UpdateProfile(ctx context.Context, id primitive.ObjectID, in ProfileInput) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := utils.CleanText(*in.Name)
		if name == "" {
			return nil, apperrors.NewFieldError("name", "is required")
		}
		user.Name = name
	}
	if in.Email != nil {
		email := models.NormalizeEmail(*in.Email)
		if err := validate.Var(email, "required,email"); err != nil {
			return nil, apperrors.NewFieldError("email", "must be a valid email address")
		}
		user.Email = email
	}
	if in.Phone != nil {
		user.Phone = utils.CleanText(*in.Phone)
	}
	if in.Ward != nil {
		user.Ward = utils.CleanText(*in.Ward)
	}
	if in.NewPassword != "" {
		if !user.ComparePassword(in.CurrentPassword) {
			return nil, apperrors.NewFieldError("currentPassword", "is incorrect")
		}
		if len(in.NewPassword) < minPasswordLength {
			return nil, apperrors.NewFieldError("newPassword", fmt.Sprintf("must be at least %d characters", minPasswordLength))
		}
		user.Password = in.NewPassword
		if err := user.HashPassword(); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}

	return s.save(ctx, user)
}

// SetRole changes another user's role. Admins cannot change their own.
func (s *IdentityService) SetRole(ctx context.Context, actor *auth.Principal, id primitive.ObjectID, role models.Role) (*models.User, error) {
	if !role.IsValid() {
		return nil, apperrors.NewFieldError("role", "must be one of: citizen, staff, admin")
	}
	if actor != nil && actor.UserID == id {
		return nil, apperrors.NewForbiddenError("You cannot change your own role")
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Role = role
	updated, err := s.save(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user role changed", "user_id", id.Hex(), "role", role, "by", actorID(actor))
	return updated, nil
}

// SetActive deactivates or reactivates a user. Users are never hard-deleted.
func (s *IdentityService) SetActive(ctx context.Context, actor *auth.Principal, id primitive.ObjectID, active bool) (*models.User, error) {
	if actor != nil && actor.UserID == id && !active {
		return nil, apperrors.NewForbiddenError("You cannot deactivate your own account")
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.IsActive = active
	updated, err := s.save(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user activation changed", "user_id", id.Hex(), "active", active, "by", actorID(actor))
	return updated, nil
}

func (s *IdentityService) save(ctx context.Context, user *models.User) (*models.User, error) {
	user.UpdatedAt = s.now()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, apperrors.NewDuplicateEmailError()
		case errors.Is(err, store.ErrNotFound):
			return nil, apperrors.NewNotFoundError("User")
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func actorID(p *auth.Principal) string {
	if p == nil {
		return "cli"
	}
	return p.UserID.Hex()
}
