// Package handlers contains HTTP route handler functions for the Company Chat server.
// This file handles the /api/v1 company routes used by administrators: listing,
// creating and renaming companies, and peeking at who is online in a company's chat.
//
// Each exported function follows the "handler factory" pattern: it takes its
// dependencies and returns a fiber.Handler. This lets us inject the directory and
// the chat engine without using global variables.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trentd187/company-chat/internal/chat"
	"github.com/trentd187/company-chat/internal/directory"
	"github.com/trentd187/company-chat/internal/models"
)

var validate = validator.New()

// CompanyDirectory is the part of directory.Store the company routes need.
type CompanyDirectory interface {
	ListCompanies(ctx context.Context, search string) ([]models.Company, error)
	CreateCompany(ctx context.Context, name string) (*models.Company, error)
	RenameCompany(ctx context.Context, id uuid.UUID, name string) (*models.Company, error)
}

// GroupNotifier pushes System messages into a chat group (chat.Notifier).
type GroupNotifier interface {
	Notify(ctx context.Context, key chat.GroupKey, text string) int
}

// Roster lists who is connected to a chat group (chat.Registry).
type Roster interface {
	Usernames(key chat.GroupKey) []string
}

// CompanyResponse is what we send back for a company.
type CompanyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"` // ISO 8601 timestamp string
}

// CompanyRequest is the body of POST /companies and POST /update-company/:id.
// Both JSON and form encodings are accepted.
type CompanyRequest struct {
	Name string `json:"name" form:"name" validate:"required,max=100"`
}

func toCompanyResponse(c *models.Company) CompanyResponse {
	return CompanyResponse{
		ID:        c.ID.String(),
		Name:      c.Name,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CompanyUpdatedMessage is the System message announcing a rename.
func CompanyUpdatedMessage(name string) string {
	return fmt.Sprintf("Company %s updated.", name)
}

// ListCompanies returns a handler for GET /api/v1/companies.
// Optional query param: ?search=acme filters by a case-insensitive part of the name.
func ListCompanies(dir CompanyDirectory) fiber.Handler {
	return func(c *fiber.Ctx) error {
		companies, err := dir.ListCompanies(c.UserContext(), c.Query("search"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch companies",
			})
		}

		response := make([]CompanyResponse, 0, len(companies))
		for i := range companies {
			response = append(response, toCompanyResponse(&companies[i]))
		}
		return c.JSON(response)
	}
}

// CreateCompany returns a handler for POST /api/v1/companies.
func CreateCompany(dir CompanyDirectory) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := parseCompanyRequest(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		company, err := dir.CreateCompany(c.UserContext(), req.Name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to create company",
			})
		}
		return c.Status(fiber.StatusCreated).JSON(toCompanyResponse(company))
	}
}

// UpdateCompany returns a handler for POST /api/v1/update-company/:id.
// It renames the company and then tells everyone connected to the company's
// chat, as the "System" user, that the company was updated.
func UpdateCompany(dir CompanyDirectory, notifier GroupNotifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid company id"})
		}

		req, err := parseCompanyRequest(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		company, err := dir.RenameCompany(c.UserContext(), id, req.Name)
		if errors.Is(err, directory.ErrCompanyNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Company not found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to update company",
			})
		}

		notifier.Notify(c.UserContext(), directory.GroupKeyFor(company.ID), CompanyUpdatedMessage(company.Name))
		return c.JSON(fiber.Map{"status": "updated"})
	}
}

// OnlineMembers returns a handler for GET /api/v1/companies/:id/online: the
// names of the users currently connected to the company's chat.
func OnlineMembers(roster Roster) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid company id"})
		}
		return c.JSON(fiber.Map{"usernames": roster.Usernames(directory.GroupKeyFor(id))})
	}
}

func parseCompanyRequest(c *fiber.Ctx) (CompanyRequest, error) {
	var req CompanyRequest
	if err := c.BodyParser(&req); err != nil {
		return req, errors.New("invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return req, errors.New("name is required and must be at most 100 characters")
	}
	return req, nil
}
