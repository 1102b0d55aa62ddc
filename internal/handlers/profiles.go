package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trentd187/company-chat/internal/directory"
	"github.com/trentd187/company-chat/internal/models"
)

// ProfileDirectory is the part of directory.Store the profile route needs.
type ProfileDirectory interface {
	AssignCompany(ctx context.Context, userID, companyID uuid.UUID) (*models.Profile, error)
}

// AssignProfileRequest is the JSON body of PUT /api/v1/profiles.
type AssignProfileRequest struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	CompanyID string `json:"company_id" validate:"required,uuid"`
}

// ProfileResponse links a user to their company.
type ProfileResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
}

// AssignProfile returns a handler for PUT /api/v1/profiles.
// It creates the user's profile or moves it to another company. Users already
// connected keep chatting in their old company until they reconnect.
func AssignProfile(dir ProfileDirectory) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req AssignProfileRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id and company_id must be UUIDs",
			})
		}

		// Validated above, so these cannot fail.
		userID := uuid.MustParse(req.UserID)
		companyID := uuid.MustParse(req.CompanyID)

		profile, err := dir.AssignCompany(c.UserContext(), userID, companyID)
		switch {
		case errors.Is(err, directory.ErrUserNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		case errors.Is(err, directory.ErrCompanyNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Company not found"})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to assign profile",
			})
		}

		return c.JSON(ProfileResponse{
			ID:        profile.ID.String(),
			UserID:    profile.UserID.String(),
			CompanyID: profile.CompanyID.String(),
		})
	}
}
