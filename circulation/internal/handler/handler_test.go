package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlib/circulation-service/circulation/internal/errs"
	"github.com/openlib/circulation-service/circulation/internal/handler"
	service_mocks "github.com/openlib/circulation-service/circulation/internal/handler/mocks"
	"github.com/openlib/circulation-service/circulation/internal/model"
	"github.com/openlib/circulation-service/pkg/auth"
	md "github.com/openlib/circulation-service/pkg/middleware"
	"github.com/openlib/circulation-service/pkg/validate"
)

type caller struct {
	id   string
	name string
	role string
}

var (
	adminCaller = caller{id: "admin001", name: "Library Admin", role: "admin"}
	userCaller  = caller{id: "user123", name: "PES Student", role: "user"}
)

func setHeaders(r *http.Request, c caller) {
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	r.Header.Set(auth.XUserIDHeader, c.id)
	r.Header.Set(auth.XUserNameHeader, c.name)
	r.Header.Set(auth.XUserRoleHeader, c.role)
}

func issuedFixture(dueDate time.Time) model.Book {
	return model.Book{
		ID:     "b1",
		Title:  "Clean Code",
		Author: "Robert C. Martin",
		ISBN:   "9780132350884",
		Status: model.StatusIssued,
		IssueDetails: &model.IssueDetails{
			UserID:    "user123",
			UserName:  "PES Student",
			IssueDate: dueDate.AddDate(0, 0, -14),
			DueDate:   dueDate,
		},
	}
}

func TestHandler_IssueBook(t *testing.T) {
	t.Parallel()
	type input struct {
		caller caller
		body   string
	}
	type response struct {
		expectedCode int
		contains     string
	}
	type mockBehavior func(r *service_mocks.MockCirculationService)

	dueDate := time.Date(2024, 3, 29, 12, 0, 0, 0, time.UTC)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		input        input
		response     response
	}{
		{
			name: "ok",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					IssueBook(gomock.Any(), "b1", model.Borrower{ID: "user123", Name: "PES Student"}).
					Return(issuedFixture(dueDate), nil)
			},
			input: input{
				caller: adminCaller,
				body:   `{"borrowerId":"user123","borrowerName":"PES Student"}`,
			},
			response: response{
				expectedCode: http.StatusOK,
				contains:     `"status":"issued"`,
			},
		},
		{
			name: "ledger warning is surfaced alongside the book",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					IssueBook(gomock.Any(), "b1", gomock.Any()).
					Return(issuedFixture(dueDate), errors.Wrap(errs.ErrLedgerAppend, "issue for book b1"))
			},
			input: input{
				caller: adminCaller,
				body:   `{"borrowerId":"user123"}`,
			},
			response: response{
				expectedCode: http.StatusOK,
				contains:     `"warning":"issue for book b1: ledger append failed"`,
			},
		},
		{
			name: "err. already issued",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					IssueBook(gomock.Any(), "b1", gomock.Any()).
					Return(model.Book{}, errs.ErrInvalidState)
			},
			input: input{
				caller: adminCaller,
				body:   `{"borrowerId":"user456"}`,
			},
			response: response{
				expectedCode: http.StatusBadRequest,
				contains:     `{"message":"operation not allowed in current status"}`,
			},
		},
		{
			name: "err. lost race",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					IssueBook(gomock.Any(), "b1", gomock.Any()).
					Return(model.Book{}, errs.ErrConcurrentModification)
			},
			input: input{
				caller: adminCaller,
				body:   `{"borrowerId":"user456"}`,
			},
			response: response{
				expectedCode: http.StatusConflict,
				contains:     `{"message":"book was modified concurrently"}`,
			},
		},
		{
			name:         "err. non-admin",
			mockBehavior: func(r *service_mocks.MockCirculationService) {},
			input: input{
				caller: userCaller,
				body:   `{"borrowerId":"user123"}`,
			},
			response: response{
				expectedCode: http.StatusForbidden,
				contains:     `{"message":"permission denied"}`,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockCirculationService(c)
			log := zap.NewExample().Named("test")
			h := handler.New(svc, log)

			e := echo.New()
			e.Validator = validate.NewCustomValidator()
			e.POST("/books/:bookId/issue", h.IssueBook, md.AuthContext)

			r := httptest.NewRequest(http.MethodPost, "/books/b1/issue", strings.NewReader(tt.input.body))
			setHeaders(r, tt.input.caller)
			w := httptest.NewRecorder()

			tt.mockBehavior(svc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Contains(t, w.Body.String(), tt.response.contains)
		})
	}
}

func TestHandler_RenewBook(t *testing.T) {
	t.Parallel()
	type response struct {
		expectedCode int
		contains     string
	}
	type mockBehavior func(r *service_mocks.MockCirculationService)

	dueDate := time.Date(2024, 3, 22, 12, 0, 0, 0, time.UTC)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		caller       caller
		response     response
	}{
		{
			name: "ok",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					RenewBook(gomock.Any(), "b1", auth.Caller{ID: "user123", Name: "PES Student", Role: auth.RoleUser}).
					Return(issuedFixture(dueDate), nil)
			},
			caller: userCaller,
			response: response{
				expectedCode: http.StatusOK,
				contains:     `"status":"issued"`,
			},
		},
		{
			name: "err. overdue",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					RenewBook(gomock.Any(), "b1", gomock.Any()).
					Return(model.Book{}, errs.ErrRenewalNotAllowed)
			},
			caller: userCaller,
			response: response{
				expectedCode: http.StatusBadRequest,
				contains:     "renewal is not allowed",
			},
		},
		{
			name: "err. not the borrower",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					RenewBook(gomock.Any(), "b1", gomock.Any()).
					Return(model.Book{}, errs.ErrPermission)
			},
			caller: userCaller,
			response: response{
				expectedCode: http.StatusForbidden,
				contains:     `{"message":"permission denied"}`,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockCirculationService(c)
			h := handler.New(svc, zap.NewExample().Named("test"))

			e := echo.New()
			e.Validator = validate.NewCustomValidator()
			e.POST("/books/:bookId/renew", h.RenewBook, md.AuthContext)

			r := httptest.NewRequest(http.MethodPost, "/books/b1/renew", http.NoBody)
			setHeaders(r, tt.caller)
			w := httptest.NewRecorder()

			tt.mockBehavior(svc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Contains(t, w.Body.String(), tt.response.contains)
		})
	}
}

func TestHandler_SubmitDonation(t *testing.T) {
	t.Parallel()
	type response struct {
		expectedCode int
		contains     string
	}
	type mockBehavior func(r *service_mocks.MockCirculationService)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		body         string
		response     response
	}{
		{
			name: "ok",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					SubmitDonation(gomock.Any(),
						model.CreateBookRequest{Title: "Clean Code", Author: "Robert C. Martin", ISBN: "9780132350884"},
						model.Borrower{ID: "user123", Name: "PES Student"}).
					Return(model.Book{
						ID:     "b9",
						Title:  "Clean Code",
						Status: model.StatusDonatedPending,
						DonatedBy: &model.DonatedBy{
							UserID:   "user123",
							UserName: "PES Student",
							Date:     time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
						},
					}, nil)
			},
			body: `{"title":"Clean Code","author":"Robert C. Martin","isbn":"9780132350884"}`,
			response: response{
				expectedCode: http.StatusCreated,
				contains:     `"status":"donated_pending_approval"`,
			},
		},
		{
			name:         "err. missing title",
			mockBehavior: func(r *service_mocks.MockCirculationService) {},
			body:         `{"author":"Robert C. Martin","isbn":"9780132350884"}`,
			response: response{
				expectedCode: http.StatusBadRequest,
				contains:     "Title",
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockCirculationService(c)
			h := handler.New(svc, zap.NewExample().Named("test"))

			e := echo.New()
			e.Validator = validate.NewCustomValidator()
			e.POST("/donations", h.SubmitDonation, md.AuthContext)

			r := httptest.NewRequest(http.MethodPost, "/donations", strings.NewReader(tt.body))
			setHeaders(r, userCaller)
			w := httptest.NewRecorder()

			tt.mockBehavior(svc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Contains(t, w.Body.String(), tt.response.contains)
		})
	}
}

func TestHandler_RejectDonation(t *testing.T) {
	t.Parallel()
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *service_mocks.MockCirculationService)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		caller       caller
		response     response
	}{
		{
			name: "ok",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().RejectDonation(gomock.Any(), "b1").Return(nil)
			},
			caller: adminCaller,
			response: response{
				expectedCode: http.StatusNoContent,
				expectedBody: "",
			},
		},
		{
			name: "err. not found",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().RejectDonation(gomock.Any(), "b1").Return(errs.ErrNotFound)
			},
			caller: adminCaller,
			response: response{
				expectedCode: http.StatusNotFound,
				expectedBody: `{"message":"not found"}`,
			},
		},
		{
			name:         "err. non-admin",
			mockBehavior: func(r *service_mocks.MockCirculationService) {},
			caller:       userCaller,
			response: response{
				expectedCode: http.StatusForbidden,
				expectedBody: `{"message":"permission denied"}`,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockCirculationService(c)
			h := handler.New(svc, zap.NewExample().Named("test"))

			e := echo.New()
			e.Validator = validate.NewCustomValidator()
			e.POST("/donations/:bookId/reject", h.RejectDonation, md.AuthContext)

			r := httptest.NewRequest(http.MethodPost, "/donations/b1/reject", http.NoBody)
			setHeaders(r, tt.caller)
			w := httptest.NewRecorder()

			tt.mockBehavior(svc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
		})
	}
}

func TestHandler_ListIssued(t *testing.T) {
	t.Parallel()
	type response struct {
		expectedCode int
		contains     string
	}
	type mockBehavior func(r *service_mocks.MockCirculationService)

	dueDate := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		caller       caller
		target       string
		response     response
	}{
		{
			name: "own loans",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					ListIssuedTo(gomock.Any(), "user123").
					Return([]model.IssuedBook{
						{Book: issuedFixture(dueDate), DueStatus: model.DueStatusDueSoon},
					}, nil)
			},
			caller: userCaller,
			response: response{
				expectedCode: http.StatusOK,
				contains:     `"dueStatus":"due_soon"`,
			},
		},
		{
			name: "admin inspects another user",
			mockBehavior: func(r *service_mocks.MockCirculationService) {
				r.EXPECT().
					ListIssuedTo(gomock.Any(), "user456").
					Return([]model.IssuedBook{}, nil)
			},
			caller: adminCaller,
			target: "user456",
			response: response{
				expectedCode: http.StatusOK,
				contains:     `[]`,
			},
		},
		{
			name:         "err. user peeks at another user",
			mockBehavior: func(r *service_mocks.MockCirculationService) {},
			caller:       userCaller,
			target:       "user456",
			response: response{
				expectedCode: http.StatusForbidden,
				contains:     `{"message":"permission denied"}`,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockCirculationService(c)
			h := handler.New(svc, zap.NewExample().Named("test"))

			e := echo.New()
			e.Validator = validate.NewCustomValidator()
			e.GET("/books/issued", h.ListIssued, md.AuthContext)

			url := "/books/issued"
			if tt.target != "" {
				url = fmt.Sprintf("/books/issued?userId=%s", tt.target)
			}
			r := httptest.NewRequest(http.MethodGet, url, http.NoBody)
			setHeaders(r, tt.caller)
			w := httptest.NewRecorder()

			tt.mockBehavior(svc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Contains(t, w.Body.String(), tt.response.contains)
		})
	}
}
