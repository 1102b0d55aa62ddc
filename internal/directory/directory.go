// Package directory is the Postgres-backed record of users, companies and
// the profiles linking them. It resolves chat principals to their company
// group and serves the admin API.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/trentd187/company-chat/internal/chat"
	"github.com/trentd187/company-chat/internal/logging"
	"github.com/trentd187/company-chat/internal/models"
)

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrUserNotFound    = errors.New("user not found")
)

const groupPrefix = "company_"

// GroupKeyFor returns the chat group of a company.
func GroupKeyFor(companyID uuid.UUID) chat.GroupKey {
	return chat.GroupKey(groupPrefix + companyID.String())
}

// CompanyIDFromGroup reverses GroupKeyFor.
func CompanyIDFromGroup(key chat.GroupKey) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(string(key), groupPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("group %q is not a company group", key)
	}
	return uuid.Parse(raw)
}

// Store implements chat.PrincipalResolver and the directory operations used
// by the HTTP handlers on top of GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logging.OrNop(logger)}
}

// SyncUser finds the user behind a token subject, creating the row on first
// sight. A non-empty role different from the stored one is written back so
// role changes at the identity provider take effect.
func (s *Store) SyncUser(ctx context.Context, externalID, username string, role models.UserRole) (*models.User, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("external_id = ?", externalID).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if role == "" {
			role = models.UserRoleUser
		}
		user = models.User{ExternalID: &externalID, Username: username, Role: role}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user %q: %w", username, err)
		}
		s.logger.Info("created user", zap.String("user", username), zap.String("id", user.ID.String()))
		return &user, nil
	case err != nil:
		return nil, fmt.Errorf("find user %q: %w", externalID, err)
	}

	if role != "" && user.Role != role {
		if err := db.Model(&user).Update("role", role).Error; err != nil {
			return nil, fmt.Errorf("sync role of %q: %w", username, err)
		}
		user.Role = role
	}
	return &user, nil
}

// ResolvePrincipal returns the company group of the principal's profile.
func (s *Store) ResolvePrincipal(ctx context.Context, p chat.Principal) (chat.GroupKey, error) {
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return "", fmt.Errorf("principal %q: %w", p.UserID, chat.ErrNoGroup)
	}

	var profile models.Profile
	err = s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("user %s has no profile: %w", userID, chat.ErrNoGroup)
	}
	if err != nil {
		return "", fmt.Errorf("find profile of %s: %w", userID, err)
	}
	return GroupKeyFor(profile.CompanyID), nil
}

// ListPeerNames returns the usernames of every profile in the group's company,
// whether or not they are connected.
func (s *Store) ListPeerNames(ctx context.Context, key chat.GroupKey) ([]string, error) {
	companyID, err := CompanyIDFromGroup(key)
	if err != nil {
		return []string{}, nil
	}

	names := []string{}
	err = s.db.WithContext(ctx).
		Model(&models.Profile{}).
		Joins("JOIN users ON users.id = profiles.user_id").
		Where("profiles.company_id = ?", companyID).
		Order("users.username").
		Pluck("users.username", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list peers of %s: %w", companyID, err)
	}
	return names, nil
}

// ListCompanies returns companies ordered by name, optionally filtered by a
// case-insensitive substring of the name.
func (s *Store) ListCompanies(ctx context.Context, search string) ([]models.Company, error) {
	query := s.db.WithContext(ctx).Order("name")
	if search != "" {
		query = query.Where("name ILIKE ?", "%"+search+"%")
	}

	var companies []models.Company
	if err := query.Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return companies, nil
}

func (s *Store) CreateCompany(ctx context.Context, name string) (*models.Company, error) {
	company := models.Company{Name: name}
	if err := s.db.WithContext(ctx).Create(&company).Error; err != nil {
		return nil, fmt.Errorf("create company %q: %w", name, err)
	}
	return &company, nil
}

// RenameCompany updates the company's name and returns the updated row.
func (s *Store) RenameCompany(ctx context.Context, id uuid.UUID, name string) (*models.Company, error) {
	var company models.Company
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&company, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCompanyNotFound
			}
			return err
		}
		if err := tx.Model(&company).Update("name", name).Error; err != nil {
			return err
		}
		company.Name = name
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCompanyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("rename company %s: %w", id, err)
	}
	return &company, nil
}

// AssignCompany creates the user's profile or moves it to another company.
// The move is picked up by the user's next chat connection; live sessions
// stay in the group they were admitted to.
func (s *Store) AssignCompany(ctx context.Context, userID, companyID uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&models.User{}, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.First(&models.Company{}, "id = ?", companyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCompanyNotFound
			}
			return err
		}

		err := tx.Where("user_id = ?", userID).First(&profile).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			profile = models.Profile{UserID: userID, CompanyID: companyID}
			return tx.Create(&profile).Error
		case err != nil:
			return err
		}
		if err := tx.Model(&profile).Update("company_id", companyID).Error; err != nil {
			return err
		}
		profile.CompanyID = companyID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrCompanyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("assign %s to %s: %w", userID, companyID, err)
	}
	return &profile, nil
}
