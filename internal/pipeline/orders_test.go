package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/storesync/config"
	"example.com/storesync/internal/models"
	"example.com/storesync/internal/render"
	"example.com/storesync/internal/status"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) FetchUnprinted(ctx context.Context) ([]models.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockOrderStore) MarkPrinted(ctx context.Context, id string, pdfPath string) (bool, error) {
	args := m.Called(ctx, id, pdfPath)
	return args.Bool(0), args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

// stubRenderer avoids real PDF generation in pipeline tests and can block to
// hold a cycle open.
type stubRenderer struct {
	data    []byte
	err     error
	entered chan struct{}
	release chan struct{}
}

func (s *stubRenderer) Render(order *models.Order) ([]byte, string, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, "", s.err
	}
	return s.data, render.FileName(order.OrderNumber), nil
}

func outputSetup(t *testing.T) (config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{}
	cfg.Output = config.OutputConfig{PDFDir: dir}
	return cfg, dir
}

func unprintedOrder() models.Order {
	return models.Order{
		ID:          uuid.New(),
		OrderNumber: "WEB-1001",
		CreatedAt:   time.Now(),
		FirstName:   "Maria",
		LastName:    "Lopez",
		Email:       "maria@example.com",
		Items: []models.OrderItem{
			{
				Name:        "Garden Hose",
				Quantity:    3,
				Price:       decimal.RequireFromString("10.00"),
				Fulfillment: models.Fulfillment{Method: models.FulfillmentPickup, LocationID: 2},
			},
		},
		Subtotal: decimal.RequireFromString("30.00"),
		Total:    decimal.RequireFromString("30.00"),
	}
}

func TestOrdersCycleRendersAndCommits(t *testing.T) {
	cfg, dir := outputSetup(t)
	order := unprintedOrder()
	wantPath := filepath.Join(dir, "order_WEB-1001.pdf")

	store := new(MockOrderStore)
	store.On("FetchUnprinted", mock.Anything).Return([]models.Order{order}, nil)
	store.On("MarkPrinted", mock.Anything, order.ID.String(), wantPath).Return(true, nil)
	printer := new(MockDispatcher)
	printer.On("Dispatch", wantPath).Return(nil)

	tracker := status.NewTracker(nil)
	p := NewOrdersPipeline(cfg, store, &stubRenderer{data: []byte("%PDF-1.4 test")}, tracker, nil, nil, nil, nil, printer)
	require.True(t, p.RunCycle(context.Background()))

	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4 test"), data)
	require.NoFileExists(t, wantPath+".tmp")

	st, _ := tracker.Get(OrdersName)
	require.Equal(t, status.StateIdle, st.State)
	require.Equal(t, 1, st.Processed)
	store.AssertExpectations(t)
	printer.AssertExpectations(t)
}

func TestOrdersCycleKeepsDocumentOnCommitFailure(t *testing.T) {
	cfg, dir := outputSetup(t)
	order := unprintedOrder()
	wantPath := filepath.Join(dir, "order_WEB-1001.pdf")

	store := new(MockOrderStore)
	store.On("FetchUnprinted", mock.Anything).Return([]models.Order{order}, nil)
	store.On("MarkPrinted", mock.Anything, order.ID.String(), wantPath).Return(false, errors.New("connection reset"))
	printer := new(MockDispatcher)

	tracker := status.NewTracker(nil)
	p := NewOrdersPipeline(cfg, store, &stubRenderer{data: []byte("%PDF")}, tracker, nil, nil, nil, nil, printer)
	require.True(t, p.RunCycle(context.Background()))

	// The document was written before the failed commit and stays for the retry
	require.FileExists(t, wantPath)
	printer.AssertNotCalled(t, "Dispatch", mock.Anything)
	st, _ := tracker.Get(OrdersName)
	require.Equal(t, status.StateError, st.State)
	require.Equal(t, 1, st.Failed)
}

func TestOrdersCycleSkipsDispatchWhenAlreadyPrinted(t *testing.T) {
	cfg, _ := outputSetup(t)
	order := unprintedOrder()

	store := new(MockOrderStore)
	store.On("FetchUnprinted", mock.Anything).Return([]models.Order{order}, nil)
	store.On("MarkPrinted", mock.Anything, order.ID.String(), mock.AnythingOfType("string")).Return(false, nil)
	printer := new(MockDispatcher)

	tracker := status.NewTracker(nil)
	p := NewOrdersPipeline(cfg, store, &stubRenderer{data: []byte("%PDF")}, tracker, nil, nil, nil, nil, printer)
	require.True(t, p.RunCycle(context.Background()))

	// Losing the conditional update is success, but nothing gets printed here
	printer.AssertNotCalled(t, "Dispatch", mock.Anything)
	st, _ := tracker.Get(OrdersName)
	require.Equal(t, status.StateIdle, st.State)
	require.Equal(t, 1, st.Processed)
	require.Zero(t, st.Failed)
}

func TestOrdersCycleReportsUnrenderableOrder(t *testing.T) {
	cfg, dir := outputSetup(t)
	order := unprintedOrder()

	store := new(MockOrderStore)
	store.On("FetchUnprinted", mock.Anything).Return([]models.Order{order}, nil)

	renderErr := &render.RenderError{OrderNumber: order.OrderNumber, Reason: "missing customer email"}
	p := NewOrdersPipeline(cfg, store, &stubRenderer{err: renderErr}, status.NewTracker(nil), nil, nil, nil, nil, nil)
	require.True(t, p.RunCycle(context.Background()))

	store.AssertNotCalled(t, "MarkPrinted", mock.Anything, mock.Anything, mock.Anything)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOrdersCycleStopsAtOrderBoundaryOnCancel(t *testing.T) {
	cfg, dir := outputSetup(t)

	store := new(MockOrderStore)
	store.On("FetchUnprinted", mock.Anything).Return([]models.Order{unprintedOrder()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewOrdersPipeline(cfg, store, &stubRenderer{data: []byte("%PDF")}, nil, nil, nil, nil, nil, nil)
	require.True(t, p.RunCycle(ctx))

	// Cancellation is observed before the next order, so nothing was written
	store.AssertNotCalled(t, "MarkPrinted", mock.Anything, mock.Anything, mock.Anything)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOrdersCycleCoalescesOverlappingTriggers(t *testing.T) {
	cfg, _ := outputSetup(t)
	order := unprintedOrder()

	renderer := &stubRenderer{
		data:    []byte("%PDF"),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	store := new(MockOrderStore)
	store.On("FetchUnprinted", mock.Anything).Return([]models.Order{order}, nil)
	store.On("MarkPrinted", mock.Anything, order.ID.String(), mock.AnythingOfType("string")).Return(true, nil)

	p := NewOrdersPipeline(cfg, store, renderer, nil, nil, nil, nil, nil, nil)

	done := make(chan bool, 1)
	go func() { done <- p.RunCycle(context.Background()) }()
	<-renderer.entered

	require.False(t, p.RunCycle(context.Background()))

	close(renderer.release)
	require.True(t, <-done)
	store.AssertNumberOfCalls(t, "MarkPrinted", 1)
}

func TestWriteFileAtomicReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "order_WEB-1001.pdf")

	require.NoError(t, writeFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, writeFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
	require.NoFileExists(t, path+".tmp")
}
