package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/shared"
)

type MockCreditService struct {
	mock.Mock
}

func (m *MockCreditService) RegisterAccount(ctx context.Context, holder string, kind credit.HolderKind, limit int64) (credit.Account, error) {
	args := m.Called(ctx, holder, kind, limit)
	return args.Get(0).(credit.Account), args.Error(1)
}

func (m *MockCreditService) Account(ctx context.Context, id int64) (credit.Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(credit.Account), args.Error(1)
}

func (m *MockCreditService) Accounts(ctx context.Context) ([]credit.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).([]credit.Account), args.Error(1)
}

func (m *MockCreditService) ApplyMovement(ctx context.Context, req credit_ledger.MovementRequest) (credit_ledger.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(credit_ledger.Result), args.Error(1)
}

func (m *MockCreditService) UpdateLimit(ctx context.Context, id, limit int64) (credit.Account, error) {
	args := m.Called(ctx, id, limit)
	return args.Get(0).(credit.Account), args.Error(1)
}

func (m *MockCreditService) Deactivate(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCreditService) History(ctx context.Context, id int64) ([]credit.Movement, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]credit.Movement), args.Error(1)
}

func (m *MockCreditService) Audit(ctx context.Context, id int64) (credit_ledger.AuditReport, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(credit_ledger.AuditReport), args.Error(1)
}

func account(id int64) credit.Account {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return credit.Account{
		ID:          id,
		Holder:      "Dona Maria",
		Kind:        credit.HolderCustomer,
		CreditLimit: 5000,
		Balance:     1200,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCreditHandler_Register(t *testing.T) {
	logger := testLogger()

	t.Run("Success", func(t *testing.T) {
		svc := new(MockCreditService)
		h := NewCreditHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/accounts", h.Register)

		svc.On("RegisterAccount", mock.Anything, "Dona Maria", credit.HolderCustomer, int64(5000)).Return(account(-42), nil)

		rr := doJSON(t, router, http.MethodPost, "/accounts", RegisterAccountRequest{Holder: "Dona Maria", Kind: "customer", CreditLimit: "50.00"})
		assert.Equal(t, http.StatusCreated, rr.Code)

		var got AccountResponse
		decodeData(t, rr, &got)
		assert.Equal(t, "50.00", got.CreditLimit)
		assert.Equal(t, "38.00", got.Available)
		assert.True(t, got.Pending)
		svc.AssertExpectations(t)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		svc := new(MockCreditService)
		h := NewCreditHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/accounts", h.Register)

		rr := doJSON(t, router, http.MethodPost, "/accounts", RegisterAccountRequest{Holder: "X", Kind: "vendor", CreditLimit: "1.00"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCreditHandler_ApplyMovement(t *testing.T) {
	logger := testLogger()

	t.Run("Purchase", func(t *testing.T) {
		svc := new(MockCreditService)
		h := NewCreditHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/accounts/:id/movements", h.ApplyMovement)

		req := credit_ledger.MovementRequest{AccountID: 3, Kind: credit.MovementPurchase, Amount: 1000, SaleID: "s-1"}
		svc.On("ApplyMovement", mock.Anything, req).Return(credit_ledger.Result{
			Movement:      credit.Movement{ID: 9, AccountID: 3, Kind: credit.MovementPurchase, Amount: 1000, BalanceBefore: 1200, BalanceAfter: 2200},
			BalanceBefore: 1200,
			BalanceAfter:  2200,
		}, nil)

		rr := doJSON(t, router, http.MethodPost, "/accounts/3/movements", CreditMovementRequest{Kind: "purchase", Amount: "10.00", SaleID: "s-1"})
		assert.Equal(t, http.StatusCreated, rr.Code)

		var got CreditResultResponse
		decodeData(t, rr, &got)
		assert.Equal(t, "22.00", got.Movement.BalanceAfter)
		assert.False(t, got.Duplicate)
	})

	t.Run("DuplicateIsOK", func(t *testing.T) {
		svc := new(MockCreditService)
		h := NewCreditHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/accounts/:id/movements", h.ApplyMovement)

		svc.On("ApplyMovement", mock.Anything, mock.Anything).Return(credit_ledger.Result{Duplicate: true}, nil)

		rr := doJSON(t, router, http.MethodPost, "/accounts/3/movements", CreditMovementRequest{Kind: "purchase", Amount: "10.00", SaleID: "s-1"})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("OverLimit", func(t *testing.T) {
		svc := new(MockCreditService)
		h := NewCreditHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/accounts/:id/movements", h.ApplyMovement)

		svc.On("ApplyMovement", mock.Anything, mock.Anything).
			Return(credit_ledger.Result{}, credit.ErrLimitExceeded{AccountID: 3, BalanceAfter: 5001, Limit: 5000})

		rr := doJSON(t, router, http.MethodPost, "/accounts/3/movements", CreditMovementRequest{Kind: "purchase", Amount: "38.01"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		resp := decodeData(t, rr, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "LIMIT_EXCEEDED", resp.Error.Code)
	})

	t.Run("RemoteFailureIsHidden", func(t *testing.T) {
		svc := new(MockCreditService)
		h := NewCreditHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/accounts/:id/movements", h.ApplyMovement)

		svc.On("ApplyMovement", mock.Anything, mock.Anything).
			Return(credit_ledger.Result{}, shared.ErrConnectivityLost)

		rr := doJSON(t, router, http.MethodPost, "/accounts/3/movements", CreditMovementRequest{Kind: "payment", Amount: "1.00"})
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), shared.ErrConnectivityLost.Error())
	})
}

func TestCreditHandler_Audit(t *testing.T) {
	svc := new(MockCreditService)
	h := NewCreditHandler(testLogger(), svc)
	router := setupTestRouter()
	router.GET("/accounts/:id/audit", h.Audit)
	router.POST("/accounts/:id/deactivate", h.Deactivate)

	svc.On("Audit", mock.Anything, int64(3)).Return(credit_ledger.AuditReport{AccountID: 3, Cached: 1200, Derived: 1200, Movements: 2}, nil)
	svc.On("Deactivate", mock.Anything, int64(3)).Return(fmt.Errorf("%w: account 3 still has balance 12.00", shared.ErrInvalidState))

	rr := doJSON(t, router, http.MethodGet, "/accounts/3/audit", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var got credit_ledger.AuditReport
	decodeData(t, rr, &got)
	assert.Equal(t, int64(1200), got.Derived)

	rr = doJSON(t, router, http.MethodPost, "/accounts/3/deactivate", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}
