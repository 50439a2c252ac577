package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openlib/circulation-service/circulation/internal/errs"
	"github.com/openlib/circulation-service/circulation/internal/model"
	"github.com/openlib/circulation-service/pkg/auth"
	md "github.com/openlib/circulation-service/pkg/middleware"
	"github.com/openlib/circulation-service/pkg/validate"
)

type Handler struct {
	circulationSvc CirculationService
	log            *zap.Logger
}

func New(circulationSvc CirculationService, log *zap.Logger) *Handler {
	return &Handler{
		circulationSvc: circulationSvc,
		log:            log,
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig()),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
		md.AuthContext,
	)

	api.POST("/books", h.CreateBook)
	api.GET("/books", h.ListBooks)
	api.GET("/books/available", h.ListAvailable)
	api.GET("/books/issued", h.ListIssued)
	api.GET("/books/:bookId", h.GetBook)
	api.GET("/books/:bookId/history", h.BookHistory)
	api.PATCH("/books/:bookId", h.EditBook)
	api.DELETE("/books/:bookId", h.DeleteBook)

	api.POST("/books/:bookId/issue", h.IssueBook)
	api.POST("/books/:bookId/return", h.ReturnBook)
	api.POST("/books/:bookId/renew", h.RenewBook)
	api.POST("/books/:bookId/fine", h.RecordFine)

	api.POST("/donations", h.SubmitDonation)
	api.GET("/donations/pending", h.ListPendingDonations)
	api.POST("/donations/:bookId/approve", h.ApproveDonation)
	api.POST("/donations/:bookId/reject", h.RejectDonation)

	api.GET("/transactions", h.ListTransactions)
	api.GET("/stats/:userId", h.UserStats)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// bookResponse carries the updated book plus the ledger warning when the
// state transition landed but the audit append did not.
type bookResponse struct {
	model.Book
	Warning string `json:"warning,omitempty"`
}

func (h *Handler) CreateBook(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	book, err := h.circulationSvc.CreateBook(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) GetBook(c echo.Context) error {
	book, err := h.circulationSvc.GetBook(c.Request().Context(), c.Param("bookId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) ListBooks(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	status := model.Status(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "status is invalid")
	}
	books, err := h.circulationSvc.ListBooks(c.Request().Context(), model.BookFilter{
		Query:    c.QueryParam("q"),
		Category: c.QueryParam("category"),
		Status:   status,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) ListAvailable(c echo.Context) error {
	books, err := h.circulationSvc.ListAvailable(c.Request().Context(), model.BookFilter{
		Query:    c.QueryParam("q"),
		Category: c.QueryParam("category"),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, books)
}

// ListIssued returns the caller's loans; admins may inspect any user via
// the userId query parameter.
func (h *Handler) ListIssued(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	userID := caller.ID
	if target := c.QueryParam("userId"); target != "" && target != caller.ID {
		if !caller.IsAdmin() {
			return echo.NewHTTPError(http.StatusForbidden, errs.ErrPermission.Error())
		}
		userID = target
	}
	books, err := h.circulationSvc.ListIssuedTo(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) IssueBook(c echo.Context) error {
	caller, err := adminCaller(c)
	if err != nil {
		return err
	}
	var req model.IssueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	borrower := model.Borrower{ID: req.BorrowerID, Name: req.BorrowerName}
	if borrower.ID == "" {
		borrower = model.Borrower{ID: caller.ID, Name: caller.Name}
	}
	book, err := h.circulationSvc.IssueBook(c.Request().Context(), c.Param("bookId"), borrower)
	if err != nil && !errors.Is(err, errs.ErrLedgerAppend) {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, withWarning(book, err))
}

func (h *Handler) ReturnBook(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	book, err := h.circulationSvc.ReturnBook(c.Request().Context(), c.Param("bookId"))
	if err != nil && !errors.Is(err, errs.ErrLedgerAppend) {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, withWarning(book, err))
}

func (h *Handler) RenewBook(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	book, err := h.circulationSvc.RenewBook(c.Request().Context(), c.Param("bookId"), caller)
	if err != nil && !errors.Is(err, errs.ErrLedgerAppend) {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, withWarning(book, err))
}

func (h *Handler) SubmitDonation(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	donor := model.Borrower{ID: caller.ID, Name: caller.Name}
	book, err := h.circulationSvc.SubmitDonation(c.Request().Context(), req, donor)
	if err != nil && !errors.Is(err, errs.ErrLedgerAppend) {
		return httpError(err)
	}
	if errors.Is(err, errs.ErrLedgerAppend) {
		return c.JSON(http.StatusCreated, withWarning(book, err))
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) ListPendingDonations(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	books, err := h.circulationSvc.ListPendingDonations(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) ApproveDonation(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	book, err := h.circulationSvc.ApproveDonation(c.Request().Context(), c.Param("bookId"))
	if err != nil && !errors.Is(err, errs.ErrLedgerAppend) {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, withWarning(book, err))
}

func (h *Handler) RejectDonation(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	err := h.circulationSvc.RejectDonation(c.Request().Context(), c.Param("bookId"))
	if errors.Is(err, errs.ErrLedgerAppend) {
		return c.JSON(http.StatusOK, map[string]string{"warning": err.Error()})
	}
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) EditBook(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	var patch model.BookPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	book, err := h.circulationSvc.EditBook(c.Request().Context(), c.Param("bookId"), patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) DeleteBook(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	if err := h.circulationSvc.DeleteBook(c.Request().Context(), c.Param("bookId")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordFine(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	var req model.FineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	tx, err := h.circulationSvc.RecordFinePaid(c.Request().Context(), c.Param("bookId"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, tx)
}

// ListTransactions serves the circulation history; non-admin callers only
// ever see their own entries.
func (h *Handler) ListTransactions(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	bookID := c.QueryParam("bookId")
	userID := c.QueryParam("userId")
	if !caller.IsAdmin() {
		userID = caller.ID
	}
	txs, err := h.circulationSvc.ListTransactions(c.Request().Context(), bookID, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, txs)
}

func (h *Handler) BookHistory(c echo.Context) error {
	if _, err := adminCaller(c); err != nil {
		return err
	}
	history, err := h.circulationSvc.BookHistory(c.Request().Context(), c.Param("bookId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) UserStats(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	userID := c.Param("userId")
	if userID != caller.ID && !caller.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrPermission.Error())
	}
	stats, err := h.circulationSvc.UserStats(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func withWarning(book model.Book, err error) bookResponse {
	resp := bookResponse{Book: book}
	if err != nil {
		resp.Warning = err.Error()
	}
	return resp
}

func callerFrom(c echo.Context) (auth.Caller, error) {
	caller, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return auth.Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "caller identity is missing")
	}
	return caller, nil
}

func adminCaller(c echo.Context) (auth.Caller, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return auth.Caller{}, err
	}
	if !caller.IsAdmin() {
		return auth.Caller{}, echo.NewHTTPError(http.StatusForbidden, errs.ErrPermission.Error())
	}
	return caller, nil
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrInvalidState),
		errors.Is(err, errs.ErrRenewalNotAllowed),
		errors.Is(err, errs.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
