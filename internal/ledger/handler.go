package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes the ledger engine over HTTP. It carries no business rules:
// it parses requests, invokes one engine operation and maps error kinds to
// status codes.
type Handler struct {
	engine *Engine
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type registerRequest struct {
	Login string `json:"login"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type createAccountRequest struct {
	UserID int64 `json:"user_id"`
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id"`
	ToAccountID   int64           `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type accountResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Balance   string    `json:"balance"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"created_at"`
}

type userResponse struct {
	ID        int64             `json:"id"`
	Login     string            `json:"login"`
	CreatedAt time.Time         `json:"created_at"`
	Accounts  []accountResponse `json:"accounts"`
}

type transactionResponse struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
	FromAccountID *int64    `json:"from_account_id,omitempty"`
	ToAccountID   *int64    `json:"to_account_id,omitempty"`
}

// RegisterUser creates a user with one default account.
func (h *Handler) RegisterUser(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.engine.RegisterUser(c.UserContext(), req.Login)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(toUserResponse(user))
}

// ListUsers returns all users with their accounts.
func (h *Handler) ListUsers(c *fiber.Ctx) error {
	users, err := h.engine.ListUsers(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return c.JSON(out)
}

// CreateAccount opens an additional account for an existing user.
func (h *Handler) CreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.engine.CreateAccount(c.UserContext(), req.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(toAccountResponse(account))
}

// CloseAccount closes an account, migrating its balance.
func (h *Handler) CloseAccount(c *fiber.Ctx) error {
	accountID, err := pathID(c, "accountId")
	if err != nil {
		return err
	}
	closure, err := h.engine.CloseAccount(c.UserContext(), accountID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"closed":   toAccountResponse(closure.Closed),
		"target":   toAccountResponse(closure.Target),
		"migrated": closure.Migrated.String(),
	})
}

// Deposit credits an account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	accountID, err := pathID(c, "accountId")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.engine.Deposit(c.UserContext(), accountID, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toAccountResponse(account))
}

// Withdraw debits an account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	accountID, err := pathID(c, "accountId")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.engine.Withdraw(c.UserContext(), accountID, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toAccountResponse(account))
}

// Transfer moves funds between two accounts.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Transfer(c.UserContext(), req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"sender":    toAccountResponse(res.Sender),
		"recipient": toAccountResponse(res.Recipient),
		"fee":       res.Fee.String(),
	})
}

// ListTransactions returns the audit trail in insertion order.
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	txns, err := h.engine.ListTransactions(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:            t.ID,
			Type:          string(t.Type),
			Amount:        t.Amount.String(),
			CreatedAt:     t.CreatedAt,
			FromAccountID: t.FromAccountID,
			ToAccountID:   t.ToAccountID,
		})
	}
	return c.JSON(out)
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid account id")
	}
	return id, nil
}

func toAccountResponse(a Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		Balance:   a.Balance.StringFixed(2),
		Closed:    a.Closed,
		CreatedAt: a.CreatedAt,
	}
}

func toUserResponse(u User) userResponse {
	accounts := make([]accountResponse, 0, len(u.Accounts))
	for _, a := range u.Accounts {
		accounts = append(accounts, toAccountResponse(a))
	}
	return userResponse{ID: u.ID, Login: u.Login, CreatedAt: u.CreatedAt, Accounts: accounts}
}

// toHTTPError maps the ledger error taxonomy onto HTTP status codes. The
// front end only re-presents these; it never retries on its own.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidLogin), errors.Is(err, ErrSameAccount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLoginTaken), errors.Is(err, ErrAccountClosed),
		errors.Is(err, ErrLastActiveAccount), errors.Is(err, ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
