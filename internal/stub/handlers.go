package stub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/domain"
	"github.com/spec-kit/ticket-console/internal/forms"
)

const localUser = "user"

// Handlers implements the HTTP contract the client consumes, with
// DRF-shaped bodies: {"detail": ...} errors, {"field": ["msg"]}
// validation maps, and the count/next/previous/results envelope.
type Handlers struct {
	store    *Store
	tokens   *TokenManager
	throttle *Throttle
	log      *zap.Logger
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}

func tokenNotValid(c *fiber.Ctx, msg string) error {
	return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
		"detail": msg,
		"code":   "token_not_valid",
	})
}

// Login handles POST /api/auth/token/.
func (h *Handlers) Login(c *fiber.Ctx) error {
	if !h.throttle.Allow(c.UserContext(), c.IP()) {
		return detail(c, http.StatusTooManyRequests, "Request was throttled.")
	}

	var req domain.Credentials
	if err := c.BodyParser(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid payload")
	}
	if req.Username == "" || req.Password == "" {
		return detail(c, http.StatusBadRequest, "username and password are required")
	}

	user, ok := h.store.Authenticate(req.Username, req.Password)
	if !ok {
		return detail(c, http.StatusUnauthorized, "No active account found with the given credentials")
	}

	pair, err := h.tokens.GeneratePair(user.ID)
	if err != nil {
		h.log.Error("issue token pair", zap.Error(err))
		return detail(c, http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(pair)
}

// Refresh handles POST /api/auth/token/refresh/.
func (h *Handlers) Refresh(c *fiber.Ctx) error {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := c.BodyParser(&req); err != nil || req.Refresh == "" {
		return detail(c, http.StatusBadRequest, "refresh token is required")
	}

	claims, err := h.tokens.Parse(req.Refresh, TokenTypeRefresh)
	if err != nil {
		return tokenNotValid(c, "Token is invalid or expired")
	}
	if _, ok := h.store.GetUser(claims.UserID); !ok {
		return tokenNotValid(c, "Token is invalid or expired")
	}

	access, err := h.tokens.GenerateAccess(claims.UserID)
	if err != nil {
		h.log.Error("issue access token", zap.Error(err))
		return detail(c, http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(fiber.Map{"access": access})
}

// Register handles POST /api/auth/register/.
func (h *Handlers) Register(c *fiber.Ctx) error {
	if !h.throttle.Allow(c.UserContext(), c.IP()) {
		return detail(c, http.StatusTooManyRequests, "Request was throttled.")
	}

	var req domain.Registration
	if err := c.BodyParser(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid payload")
	}

	fieldErrs := fiber.Map{}
	if msg := forms.Username(req.Username); msg != "" {
		fieldErrs["username"] = []string{msg}
	}
	if msg := forms.Password(req.Password); msg != "" {
		fieldErrs["password"] = []string{msg}
	}
	if msg := forms.Email(req.Email); msg != "" {
		fieldErrs["email"] = []string{msg}
	}
	if len(fieldErrs) > 0 {
		return c.Status(http.StatusBadRequest).JSON(fieldErrs)
	}

	user, err := h.store.CreateUser(req, false)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return detail(c, http.StatusBadRequest, err.Error())
		}
		h.log.Error("create user", zap.Error(err))
		return detail(c, http.StatusInternalServerError, "internal server error")
	}
	return c.Status(http.StatusCreated).JSON(user)
}

// RequireAuth authenticates the request via the access token.
func (h *Handlers) RequireAuth(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	if header == "" {
		return detail(c, http.StatusUnauthorized, "Authentication credentials were not provided.")
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return detail(c, http.StatusUnauthorized, "Authentication credentials were not provided.")
	}

	claims, err := h.tokens.Parse(raw, TokenTypeAccess)
	if err != nil {
		return tokenNotValid(c, "Given token not valid for any token type")
	}
	user, ok := h.store.GetUser(claims.UserID)
	if !ok {
		return tokenNotValid(c, "User not found")
	}

	c.Locals(localUser, user)
	return c.Next()
}

// Me handles GET /api/auth/me/.
func (h *Handlers) Me(c *fiber.Ctx) error {
	return c.JSON(currentUser(c))
}

// ListTickets handles GET /api/tickets/.
func (h *Handlers) ListTickets(c *fiber.Ctx) error {
	user := currentUser(c)

	q := ListQuery{
		Status:   omitAll(c.Query("status")),
		Priority: omitAll(c.Query("priority")),
		Search:   c.Query("search"),
		Ordering: c.Query("ordering"),
		Limit:    c.QueryInt("limit", 20),
		Offset:   c.QueryInt("offset", 0),
	}
	count, results := h.store.ListTickets(user, q)
	if results == nil {
		results = []domain.Ticket{}
	}

	return c.JSON(fiber.Map{
		"count":    count,
		"next":     pageLink(c, q, q.Offset+q.Limit, q.Offset+q.Limit < count),
		"previous": pageLink(c, q, maxInt(0, q.Offset-q.Limit), q.Offset > 0),
		"results":  results,
	})
}

func omitAll(v string) string {
	if v == "all" {
		return ""
	}
	return v
}

func pageLink(c *fiber.Ctx, q ListQuery, offset int, ok bool) *string {
	if !ok {
		return nil
	}
	link := fmt.Sprintf("%s%s?limit=%d&offset=%d", c.BaseURL(), c.Path(), q.Limit, offset)
	return &link
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CreateTicket handles POST /api/tickets/, accepting JSON or multipart
// form data when image attachments are present.
func (h *Handlers) CreateTicket(c *fiber.Ctx) error {
	user := currentUser(c)

	var (
		title, description string
		priority           string
		imageNames         []string
	)

	if strings.HasPrefix(c.Get("Content-Type"), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			return detail(c, http.StatusBadRequest, "invalid multipart payload")
		}
		title = firstValue(form.Value["title"])
		description = firstValue(form.Value["description"])
		priority = firstValue(form.Value["priority"])

		files := form.File["images"]
		if len(files) > forms.MaxAttachmentCount {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"images": []string{fmt.Sprintf("at most %d images are allowed", forms.MaxAttachmentCount)},
			})
		}
		var total int64
		for _, fh := range files {
			if fh.Size > forms.MaxAttachmentSize {
				return c.Status(http.StatusBadRequest).JSON(fiber.Map{
					"images": []string{"each image must be 2 MB or smaller"},
				})
			}
			total += fh.Size
			imageNames = append(imageNames, fh.Filename)
		}
		if total > forms.MaxAttachmentTotal {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"images": []string{"combined image size must be 8 MB or smaller"},
			})
		}
	} else {
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Priority    string `json:"priority"`
		}
		if err := c.BodyParser(&req); err != nil {
			return detail(c, http.StatusBadRequest, "invalid payload")
		}
		title, description, priority = req.Title, req.Description, req.Priority
	}

	fieldErrs := fiber.Map{}
	if msg := forms.Title(title); msg != "" {
		fieldErrs["title"] = []string{msg}
	}
	if msg := forms.Description(description); msg != "" {
		fieldErrs["description"] = []string{msg}
	}
	if priority == "" {
		priority = string(domain.TicketPriorityMedium)
	}
	if !domain.ValidPriority(domain.TicketPriority(priority)) {
		fieldErrs["priority"] = []string{fmt.Sprintf("%q is not a valid choice.", priority)}
	}
	if len(fieldErrs) > 0 {
		return c.Status(http.StatusBadRequest).JSON(fieldErrs)
	}

	ticket := h.store.CreateTicket(user, title, description, domain.TicketPriority(priority), imageNames)
	return c.Status(http.StatusCreated).JSON(ticket)
}

func firstValue(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// GetTicket handles GET /api/tickets/:id/.
func (h *Handlers) GetTicket(c *fiber.Ctx) error {
	ticket, ok := h.visibleTicket(c)
	if !ok {
		return nil
	}
	return c.JSON(ticket)
}

// UpdateTicket handles PATCH /api/tickets/:id/. Only staff may change
// status; for everyone else the field is dropped silently.
func (h *Handlers) UpdateTicket(c *fiber.Ctx) error {
	user := currentUser(c)
	ticket, ok := h.visibleTicket(c)
	if !ok {
		return nil
	}

	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Priority    *string `json:"priority"`
		Status      *string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid payload")
	}

	fieldErrs := fiber.Map{}
	patch := TicketPatch{Title: req.Title, Description: req.Description}
	if req.Title != nil {
		if msg := forms.Title(*req.Title); msg != "" {
			fieldErrs["title"] = []string{msg}
		}
	}
	if req.Description != nil {
		if msg := forms.Description(*req.Description); msg != "" {
			fieldErrs["description"] = []string{msg}
		}
	}
	if req.Priority != nil {
		p := domain.TicketPriority(*req.Priority)
		if !domain.ValidPriority(p) {
			fieldErrs["priority"] = []string{fmt.Sprintf("%q is not a valid choice.", *req.Priority)}
		}
		patch.Priority = &p
	}
	if req.Status != nil {
		s := domain.TicketStatus(*req.Status)
		if !domain.ValidStatus(s) {
			fieldErrs["status"] = []string{fmt.Sprintf("%q is not a valid choice.", *req.Status)}
		}
		patch.Status = &s
	}
	if len(fieldErrs) > 0 {
		return c.Status(http.StatusBadRequest).JSON(fieldErrs)
	}

	updated, ok := h.store.UpdateTicket(ticket.ID, patch, user.IsStaff)
	if !ok {
		return detail(c, http.StatusNotFound, "Not found.")
	}
	return c.JSON(updated)
}

// DeleteTicket handles DELETE /api/tickets/:id/.
func (h *Handlers) DeleteTicket(c *fiber.Ctx) error {
	ticket, ok := h.visibleTicket(c)
	if !ok {
		return nil
	}
	if !h.store.DeleteTicket(ticket.ID) {
		return detail(c, http.StatusNotFound, "Not found.")
	}
	return c.SendStatus(http.StatusNoContent)
}

// Respond handles POST /api/tickets/:id/respond/.
func (h *Handlers) Respond(c *fiber.Ctx) error {
	user := currentUser(c)
	ticket, ok := h.visibleTicket(c)
	if !ok {
		return nil
	}
	if !user.IsStaff && ticket.User.ID != user.ID {
		return detail(c, http.StatusForbidden, "you are not allowed to respond to this ticket")
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"message": []string{"This field is required."},
		})
	}

	if _, ok := h.store.AddResponse(ticket.ID, user, req.Message); !ok {
		return detail(c, http.StatusNotFound, "Not found.")
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"detail": "response recorded"})
}

// visibleTicket loads the :id ticket subject to queue visibility:
// staff see everything, other users only their own tickets. Anything
// outside that scope is a 404, not a 403, so ticket ids are not
// enumerable.
func (h *Handlers) visibleTicket(c *fiber.Ctx) (domain.Ticket, bool) {
	user := currentUser(c)
	id, err := c.ParamsInt("id")
	if err != nil {
		_ = detail(c, http.StatusNotFound, "Not found.")
		return domain.Ticket{}, false
	}
	ticket, ok := h.store.GetTicket(int64(id))
	if !ok || (!user.IsStaff && ticket.User.ID != user.ID) {
		_ = detail(c, http.StatusNotFound, "Not found.")
		return domain.Ticket{}, false
	}
	return ticket, true
}

func currentUser(c *fiber.Ctx) domain.User {
	user, _ := c.Locals(localUser).(domain.User)
	return user
}
