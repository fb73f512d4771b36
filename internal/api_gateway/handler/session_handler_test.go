package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/domain/till"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Open(ctx context.Context, operator string, openingFloat int64) (till.Session, error) {
	args := m.Called(ctx, operator, openingFloat)
	return args.Get(0).(till.Session), args.Error(1)
}

func (m *MockSessionService) Current(ctx context.Context, date string) (till.Session, error) {
	args := m.Called(ctx, date)
	return args.Get(0).(till.Session), args.Error(1)
}

func (m *MockSessionService) Session(ctx context.Context, id int64) (till.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(till.Session), args.Error(1)
}

func (m *MockSessionService) Sessions(ctx context.Context, date string) ([]till.Session, error) {
	args := m.Called(ctx, date)
	return args.Get(0).([]till.Session), args.Error(1)
}

func (m *MockSessionService) Repair(ctx context.Context, date string) (cash_session.RepairReport, error) {
	args := m.Called(ctx, date)
	return args.Get(0).(cash_session.RepairReport), args.Error(1)
}

func (m *MockSessionService) RecordSale(ctx context.Context, sessionID int64, sale cash_session.Sale) (cash_session.Outcome, error) {
	args := m.Called(ctx, sessionID, sale)
	return args.Get(0).(cash_session.Outcome), args.Error(1)
}

func (m *MockSessionService) RecordTabSettlement(ctx context.Context, sessionID int64, st cash_session.TabSettlement) (cash_session.Outcome, error) {
	args := m.Called(ctx, sessionID, st)
	return args.Get(0).(cash_session.Outcome), args.Error(1)
}

func (m *MockSessionService) RecordOutflow(ctx context.Context, sessionID int64, o cash_session.Outflow) (cash_session.Outcome, error) {
	args := m.Called(ctx, sessionID, o)
	return args.Get(0).(cash_session.Outcome), args.Error(1)
}

func (m *MockSessionService) RecordAdjustment(ctx context.Context, sessionID int64, a cash_session.Adjustment) (till.Movement, error) {
	args := m.Called(ctx, sessionID, a)
	return args.Get(0).(till.Movement), args.Error(1)
}

func (m *MockSessionService) Close(ctx context.Context, id int64, declared till.Declaration, operator string) (till.Session, error) {
	args := m.Called(ctx, id, declared, operator)
	return args.Get(0).(till.Session), args.Error(1)
}

func (m *MockSessionService) Report(ctx context.Context, sessionID int64) (cash_session.SessionReport, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(cash_session.SessionReport), args.Error(1)
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, into any) Response {
	t.Helper()
	var raw struct {
		Data  json.RawMessage `json:"data"`
		Error *ErrorInfo      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	if into != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, into))
	}
	return Response{Error: raw.Error}
}

func openSession() till.Session {
	return till.Session{
		ID:           7,
		Date:         "2026-03-02",
		Status:       till.StatusOpen,
		OpeningFloat: 10000,
		OpenedBy:     "ana",
		OpenedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Totals:       map[till.Channel]int64{till.ChannelCash: 2550},
	}
}

func TestSessionHandler_Open(t *testing.T) {
	logger := testLogger()

	t.Run("Success", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions", h.Open)

		svc.On("Open", mock.Anything, "ana", int64(10000)).Return(openSession(), nil)

		rr := doJSON(t, router, http.MethodPost, "/sessions", OpenSessionRequest{Operator: "ana", OpeningFloat: "100.00"})
		assert.Equal(t, http.StatusCreated, rr.Code)

		var got SessionResponse
		decodeData(t, rr, &got)
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, "100.00", got.OpeningFloat)
		assert.Equal(t, "25.50", got.Totals["cash"])
		assert.Equal(t, "125.50", got.Available)
		assert.False(t, got.Pending)
		svc.AssertExpectations(t)
	})

	t.Run("AlreadyOpen", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions", h.Open)

		svc.On("Open", mock.Anything, "ana", int64(0)).Return(till.Session{}, till.ErrSessionAlreadyOpen{Date: "2026-03-02", ID: 7})

		rr := doJSON(t, router, http.MethodPost, "/sessions", OpenSessionRequest{Operator: "ana", OpeningFloat: "0"})
		assert.Equal(t, http.StatusConflict, rr.Code)
		resp := decodeData(t, rr, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INVALID_STATE", resp.Error.Code)
	})

	t.Run("BadAmount", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions", h.Open)

		rr := doJSON(t, router, http.MethodPost, "/sessions", OpenSessionRequest{Operator: "ana", OpeningFloat: "1.005"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		svc.AssertNotCalled(t, "Open", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSessionHandler_RecordSale(t *testing.T) {
	logger := testLogger()

	t.Run("Completed", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions/:id/sales", h.RecordSale)

		sale := cash_session.Sale{SaleID: "s-1", Channel: till.ChannelCash, Amount: 2550}
		session := openSession()
		svc.On("RecordSale", mock.Anything, int64(7), sale).Return(cash_session.Outcome{
			State:    cash_session.SagaCompleted,
			Steps:    []cash_session.Step{{Name: "movement", State: cash_session.StepApplied}, {Name: "totals", State: cash_session.StepApplied}},
			Session:  session,
			Movement: till.Movement{ID: 11, SessionID: 7, Kind: till.MovementSale, Direction: till.DirectionIn, Channel: till.ChannelCash, Amount: 2550},
		}, nil)

		rr := doJSON(t, router, http.MethodPost, "/sessions/7/sales", SaleRequest{SaleID: "s-1", Channel: "cash", Amount: "25.50"})
		assert.Equal(t, http.StatusCreated, rr.Code)

		var got OutcomeResponse
		decodeData(t, rr, &got)
		assert.Equal(t, "completed", got.State)
		require.NotNil(t, got.Movement)
		assert.Equal(t, "25.50", got.Movement.Amount)
		svc.AssertExpectations(t)
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions/:id/sales", h.RecordSale)

		rr := doJSON(t, router, http.MethodPost, "/sessions/7/sales", SaleRequest{Channel: "voucher", Amount: "1.00"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("CreditTabNeedsAccount", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions/:id/sales", h.RecordSale)

		rr := doJSON(t, router, http.MethodPost, "/sessions/7/sales", SaleRequest{Channel: "credit_tab", Amount: "1.00"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("LimitExceeded", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions/:id/sales", h.RecordSale)

		svc.On("RecordSale", mock.Anything, int64(7), mock.Anything).
			Return(cash_session.Outcome{State: cash_session.SagaFailed}, shared.ErrLimitExceeded)

		rr := doJSON(t, router, http.MethodPost, "/sessions/7/sales", SaleRequest{Channel: "credit_tab", Amount: "10.00", AccountID: 3})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		resp := decodeData(t, rr, nil)
		assert.Equal(t, "LIMIT_EXCEEDED", resp.Error.Code)
	})

	t.Run("PartialFailureCarriesOutcome", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions/:id/sales", h.RecordSale)

		out := cash_session.Outcome{
			State: cash_session.SagaPartial,
			Steps: []cash_session.Step{
				{Name: "credit_charge", State: cash_session.StepApplied},
				{Name: "movement", State: cash_session.StepFailed, Error: "connection reset"},
				{Name: "totals", State: cash_session.StepNotRun},
			},
		}
		svc.On("RecordSale", mock.Anything, int64(7), mock.Anything).
			Return(out, cash_session.PartialFailureError{Operation: "record_sale", Step: "movement", Err: errors.New("connection reset")})

		rr := doJSON(t, router, http.MethodPost, "/sessions/7/sales", SaleRequest{Channel: "credit_tab", Amount: "10.00", AccountID: 3})
		assert.Equal(t, http.StatusInternalServerError, rr.Code)

		var got OutcomeResponse
		resp := decodeData(t, rr, &got)
		assert.Equal(t, "PARTIAL_FAILURE", resp.Error.Code)
		assert.Equal(t, "partially_applied", got.State)
		assert.Len(t, got.Steps, 3)
	})

	t.Run("InvalidID", func(t *testing.T) {
		svc := new(MockSessionService)
		h := NewSessionHandler(logger, svc)
		router := setupTestRouter()
		router.POST("/sessions/:id/sales", h.RecordSale)

		rr := doJSON(t, router, http.MethodPost, "/sessions/abc/sales", SaleRequest{Channel: "cash", Amount: "1.00"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSessionHandler_Close(t *testing.T) {
	logger := testLogger()
	svc := new(MockSessionService)
	h := NewSessionHandler(logger, svc)
	router := setupTestRouter()
	router.POST("/sessions/:id/close", h.Close)

	closedAt := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	closed := openSession()
	closed.Status = till.StatusClosed
	closed.Declared = map[till.Channel]int64{till.ChannelCash: 11500}
	closed.Variance = map[till.Channel]int64{till.ChannelCash: 8950}
	closed.CashOnHand = 11500
	closed.ClosedBy = "ana"
	closed.ClosedAt = &closedAt

	svc.On("Close", mock.Anything, int64(7), till.Declaration{till.ChannelCash: 11500}, "ana").Return(closed, nil)

	t.Run("Success", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodPost, "/sessions/7/close", CloseSessionRequest{
			Operator: "ana",
			Declared: map[string]string{"cash": "115.00"},
		})
		assert.Equal(t, http.StatusOK, rr.Code)

		var got SessionResponse
		decodeData(t, rr, &got)
		assert.Equal(t, "closed", got.Status)
		assert.Equal(t, "89.50", got.Variance["cash"])
		assert.Equal(t, "115.00", got.CashOnHand)
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodPost, "/sessions/7/close", CloseSessionRequest{
			Operator: "ana",
			Declared: map[string]string{"vouchers": "1.00"},
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("NothingCounted", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodPost, "/sessions/7/close", CloseSessionRequest{Operator: "ana"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	svc.AssertNumberOfCalls(t, "Close", 1)
}

func TestSessionHandler_Report(t *testing.T) {
	svc := new(MockSessionService)
	h := NewSessionHandler(testLogger(), svc)
	router := setupTestRouter()
	router.GET("/sessions/:id/report", h.Report)

	report := cash_session.SessionReport{Session: openSession()}
	svc.On("Report", mock.Anything, int64(7)).Return(report, nil)
	svc.On("Report", mock.Anything, int64(8)).Return(cash_session.SessionReport{}, till.ErrSessionNotFound{ID: 8})

	t.Run("Text", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodGet, "/sessions/7/report?format=text", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, report.Text(), rr.Body.String())
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodGet, "/sessions/8/report", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
