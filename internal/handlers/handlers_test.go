package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/company-chat/internal/chat"
	"github.com/trentd187/company-chat/internal/directory"
	"github.com/trentd187/company-chat/internal/models"
)

type fakeDirectory struct {
	mu        sync.Mutex
	companies map[uuid.UUID]*models.Company
	users     map[uuid.UUID]bool
	profiles  map[uuid.UUID]*models.Profile
	err       error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		companies: map[uuid.UUID]*models.Company{},
		users:     map[uuid.UUID]bool{},
		profiles:  map[uuid.UUID]*models.Profile{},
	}
}

func (f *fakeDirectory) add(name string) *models.Company {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &models.Company{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	f.companies[c.ID] = c
	return c
}

func (f *fakeDirectory) ListCompanies(_ context.Context, search string) ([]models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Company
	for _, c := range f.companies {
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(search)) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeDirectory) CreateCompany(_ context.Context, name string) (*models.Company, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.add(name), nil
}

func (f *fakeDirectory) RenameCompany(_ context.Context, id uuid.UUID, name string) (*models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.companies[id]
	if !ok {
		return nil, directory.ErrCompanyNotFound
	}
	c.Name = name
	return c, nil
}

func (f *fakeDirectory) AssignCompany(_ context.Context, userID, companyID uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.users[userID] {
		return nil, directory.ErrUserNotFound
	}
	if _, ok := f.companies[companyID]; !ok {
		return nil, directory.ErrCompanyNotFound
	}
	p, ok := f.profiles[userID]
	if !ok {
		p = &models.Profile{ID: uuid.New(), UserID: userID}
		f.profiles[userID] = p
	}
	p.CompanyID = companyID
	return p, nil
}

// inbox is a chat.Sender collecting decoded chat_message events.
type inbox struct {
	mu     sync.Mutex
	events []chat.ChatMessageEvent
}

func (i *inbox) Send(_ context.Context, payload []byte) error {
	var ev chat.ChatMessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events = append(i.events, ev)
	return nil
}

func (i *inbox) all() []chat.ChatMessageEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]chat.ChatMessageEvent(nil), i.events...)
}

type testEnv struct {
	app      *fiber.App
	dir      *fakeDirectory
	registry *chat.Registry
}

func newTestEnv() *testEnv {
	dir := newFakeDirectory()
	registry := chat.NewRegistry()
	notifier := chat.NewNotifier(chat.NewRouter(registry))

	app := fiber.New()
	app.Get("/health", HealthCheck(registry))
	app.Get("/companies", ListCompanies(dir))
	app.Post("/companies", CreateCompany(dir))
	app.Post("/update-company/:id", UpdateCompany(dir, notifier))
	app.Get("/companies/:id/online", OnlineMembers(registry))
	app.Put("/profiles", AssignProfile(dir))
	app.Get("/ws/chat", RequireUpgrade, func(c *fiber.Ctx) error { return c.SendString("upgraded") })

	return &testEnv{app: app, dir: dir, registry: registry}
}

func (e *testEnv) request(t *testing.T, method, path, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv()
	env.registry.Add("g1", chat.NewConn("a", "A", "g1", &inbox{}))

	status, body := env.request(t, fiber.MethodGet, "/health", "", "")

	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","groups":1}`, body)
}

func TestUpdateCompanyNotifiesGroup(t *testing.T) {
	env := newTestEnv()
	acme := env.dir.add("Acme")
	member := &inbox{}
	outsider := &inbox{}
	env.registry.Add(directory.GroupKeyFor(acme.ID), chat.NewConn("a", "A", directory.GroupKeyFor(acme.ID), member))
	env.registry.Add("company_other", chat.NewConn("o", "O", "company_other", outsider))

	form := url.Values{"name": {"Acme Corp"}}.Encode()
	status, body := env.request(t, fiber.MethodPost, "/update-company/"+acme.ID.String(), fiber.MIMEApplicationForm, form)

	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"updated"}`, body)
	assert.Equal(t, []chat.ChatMessageEvent{{
		Type:    chat.EventChatMessage,
		User:    chat.SystemSender,
		Message: "Company Acme Corp updated.",
	}}, member.all())
	assert.Empty(t, outsider.all())
}

func TestUpdateCompanyWithoutMembers(t *testing.T) {
	env := newTestEnv()
	acme := env.dir.add("Acme")

	status, _ := env.request(t, fiber.MethodPost, "/update-company/"+acme.ID.String(), fiber.MIMEApplicationJSON, `{"name":"Quiet"}`)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Quiet", acme.Name)
}

func TestUpdateCompanyErrors(t *testing.T) {
	env := newTestEnv()
	acme := env.dir.add("Acme")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown company", fiber.MethodPost, "/update-company/" + uuid.NewString(), `{"name":"X"}`, fiber.StatusNotFound},
		{"bad id", fiber.MethodPost, "/update-company/42", `{"name":"X"}`, fiber.StatusBadRequest},
		{"missing name", fiber.MethodPost, "/update-company/" + acme.ID.String(), `{}`, fiber.StatusBadRequest},
		{"blank name", fiber.MethodPost, "/update-company/" + acme.ID.String(), `{"name":"   "}`, fiber.StatusBadRequest},
		{"long name", fiber.MethodPost, "/update-company/" + acme.ID.String(), `{"name":"` + strings.Repeat("x", 101) + `"}`, fiber.StatusBadRequest},
		{"wrong method", fiber.MethodGet, "/update-company/" + acme.ID.String(), "", fiber.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.request(t, tt.method, tt.path, fiber.MIMEApplicationJSON, tt.body)
			assert.Equal(t, tt.status, status)
		})
	}
	assert.Equal(t, "Acme", acme.Name)
}

func TestUpdateCompanyDatabaseError(t *testing.T) {
	env := newTestEnv()
	acme := env.dir.add("Acme")
	env.dir.err = errors.New("connection refused")

	status, body := env.request(t, fiber.MethodPost, "/update-company/"+acme.ID.String(), fiber.MIMEApplicationJSON, `{"name":"X"}`)

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"failed to update company"}`, body)
}

func TestCreateAndListCompanies(t *testing.T) {
	env := newTestEnv()

	status, body := env.request(t, fiber.MethodPost, "/companies", fiber.MIMEApplicationJSON, `{"name":"Globex"}`)
	require.Equal(t, fiber.StatusCreated, status)
	var created CompanyResponse
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.Equal(t, "Globex", created.Name)
	env.dir.add("Initech")

	status, body = env.request(t, fiber.MethodGet, "/companies?search=glo", "", "")
	require.Equal(t, fiber.StatusOK, status)
	var listed []CompanyResponse
	require.NoError(t, json.Unmarshal([]byte(body), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	status, _ = env.request(t, fiber.MethodPost, "/companies", fiber.MIMEApplicationJSON, `{"name":""}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestOnlineMembers(t *testing.T) {
	env := newTestEnv()
	acme := env.dir.add("Acme")
	key := directory.GroupKeyFor(acme.ID)
	env.registry.Add(key, chat.NewConn("b", "bob", key, &inbox{}))
	env.registry.Add(key, chat.NewConn("a", "alice", key, &inbox{}))

	status, body := env.request(t, fiber.MethodGet, "/companies/"+acme.ID.String()+"/online", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"usernames":["alice","bob"]}`, body)

	_, body = env.request(t, fiber.MethodGet, "/companies/"+uuid.NewString()+"/online", "", "")
	assert.JSONEq(t, `{"usernames":[]}`, body)
}

func TestAssignProfile(t *testing.T) {
	env := newTestEnv()
	acme := env.dir.add("Acme")
	userID := uuid.New()
	env.dir.users[userID] = true

	body := `{"user_id":"` + userID.String() + `","company_id":"` + acme.ID.String() + `"}`
	status, resp := env.request(t, fiber.MethodPut, "/profiles", fiber.MIMEApplicationJSON, body)
	require.Equal(t, fiber.StatusOK, status)
	var profile ProfileResponse
	require.NoError(t, json.Unmarshal([]byte(resp), &profile))
	assert.Equal(t, acme.ID.String(), profile.CompanyID)

	unknownUser := `{"user_id":"` + uuid.NewString() + `","company_id":"` + acme.ID.String() + `"}`
	status, _ = env.request(t, fiber.MethodPut, "/profiles", fiber.MIMEApplicationJSON, unknownUser)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = env.request(t, fiber.MethodPut, "/profiles", fiber.MIMEApplicationJSON, `{"user_id":"nope"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRequireUpgrade(t *testing.T) {
	env := newTestEnv()

	status, _ := env.request(t, fiber.MethodGet, "/ws/chat", "", "")
	assert.Equal(t, http.StatusUpgradeRequired, status)
}
