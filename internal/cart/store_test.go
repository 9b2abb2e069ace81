package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/internal/notify"
	"github.com/utafrali/storefront-cart/internal/storage/memory"
	"github.com/utafrali/storefront-cart/pkg/logger"
)

// --- Mocks ---

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) Stock(ctx context.Context, productID int) (domain.Stock, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).(domain.Stock), args.Error(1)
}

func (m *mockCatalog) Product(ctx context.Context, productID int) (domain.Product, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).(domain.Product), args.Error(1)
}

func (m *mockCatalog) onStock(id, amount int) *mock.Call {
	return m.On("Stock", mock.Anything, id).Return(domain.Stock{ProductID: id, Amount: amount}, nil)
}

func (m *mockCatalog) onProduct(id int) *mock.Call {
	return m.On("Product", mock.Anything, id).Return(product(id), nil)
}

// flakyKV wraps the in-memory store and can be told to fail.
type flakyKV struct {
	*memory.KV
	getErr error
	setErr error
}

func (f *flakyKV) Get(ctx context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.KV.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.KV.Set(ctx, key, value)
}

type recordingListener struct {
	mu    sync.Mutex
	carts []domain.Cart
	err   error
}

func (l *recordingListener) CartUpdated(_ context.Context, _ string, c domain.Cart) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.carts = append(l.carts, c)
	return l.err
}

// --- Helpers ---

func product(id int) domain.Product {
	return domain.Product{
		ID:    id,
		Title: "Tênis de Caminhada Leve Confortável",
		Price: decimal.RequireFromString("179.9"),
		Image: "https://rocketseat-cdn.s3-sa-east-1.amazonaws.com/modulo-redux/tenis1.jpg",
	}
}

func line(id, amount int) domain.LineItem {
	return domain.LineItem{Product: product(id), Amount: amount}
}

type fixture struct {
	catalog  *mockCatalog
	kv       *flakyKV
	recorder *notify.Recorder
}

func newFixture(t *testing.T, initial domain.Cart) *fixture {
	t.Helper()
	f := &fixture{
		catalog:  new(mockCatalog),
		kv:       &flakyKV{KV: memory.New()},
		recorder: &notify.Recorder{},
	}
	if initial != nil {
		data, err := json.Marshal(initial)
		require.NoError(t, err)
		require.NoError(t, f.kv.Set(context.Background(), DefaultKey, string(data)))
	}
	return f
}

func (f *fixture) open(opts ...Option) *Store {
	opts = append([]Option{WithLogger(logger.Discard()), WithNotifier(f.recorder)}, opts...)
	return Open(context.Background(), f.catalog, f.kv, opts...)
}

func (f *fixture) persisted(t *testing.T) string {
	t.Helper()
	v, err := f.kv.KV.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	return v
}

func amounts(c domain.Cart) map[int]int {
	out := make(map[int]int, len(c))
	for _, li := range c {
		out[li.ID] = li.Amount
	}
	return out
}

// --- Open ---

func TestOpen_EmptyWhenAbsent(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open()

	assert.NotNil(t, s.Cart())
	assert.Empty(t, s.Cart())
	assert.Equal(t, DefaultKey, s.Key())
}

func TestOpen_LoadsSnapshot(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 2), line(3, 1)})
	s := f.open()

	c := s.Cart()
	require.Len(t, c, 2)
	assert.Equal(t, 1, c[0].ID)
	assert.Equal(t, 3, c[1].ID)
	assert.Equal(t, map[int]int{1: 2, 3: 1}, amounts(c))
}

func TestOpen_BadSnapshotsStartEmpty(t *testing.T) {
	for name, raw := range map[string]string{
		"malformed": `[{"id":1,`,
		"wrong":     `{"id":1}`,
		"null":      `null`,
		"zero":      `[{"id":1,"amount":0}]`,
		"negative":  `[{"id":2,"amount":-3}]`,
		"no amount": `[{"id":3}]`,
		"duplicate": `[{"id":1,"amount":1},{"id":1,"amount":2}]`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			require.NoError(t, f.kv.Set(context.Background(), DefaultKey, raw))

			s := f.open()
			assert.NotNil(t, s.Cart())
			assert.Empty(t, s.Cart())
		})
	}
}

func TestOpen_ReadErrorStartsEmpty(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1)})
	f.kv.getErr = errors.New("connection refused")

	assert.Empty(t, f.open().Cart())
}

func TestOpen_CustomKey(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1)})
	s := f.open(WithKey(DefaultKey + ":other"))

	assert.Empty(t, s.Cart())
	assert.Equal(t, DefaultKey+":other", s.Key())
}

// --- Add ---

func TestAdd_NewProductSkipsStockCheck(t *testing.T) {
	f := newFixture(t, nil)
	f.catalog.onProduct(2)
	s := f.open()

	c, err := s.Add(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, c, 1)
	assert.Equal(t, 2, c[0].ID)
	assert.Equal(t, 1, c[0].Amount)
	assert.Equal(t, product(2).Title, c[0].Title)
	f.catalog.AssertNotCalled(t, "Stock", mock.Anything, mock.Anything)
	assert.Empty(t, f.recorder.Messages())
}

func TestAdd_AppendsInInsertionOrder(t *testing.T) {
	f := newFixture(t, domain.Cart{line(5, 1)})
	f.catalog.onProduct(1)
	s := f.open()

	c, err := s.Add(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, c, 2)
	assert.Equal(t, 5, c[0].ID)
	assert.Equal(t, 1, c[1].ID)
}

func TestAdd_ExistingProductRespectsStock(t *testing.T) {
	tests := []struct {
		name     string
		existing int
		stock    int
		wantErr  bool
	}{
		{"room for one more", 1, 2, false},
		{"plenty", 3, 10, false},
		{"at ceiling", 2, 2, true},
		{"above ceiling", 5, 3, true},
		{"no stock", 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.Cart{line(1, tt.existing)})
			f.catalog.onStock(1, tt.stock)
			s := f.open()
			before := f.persisted(t)

			c, err := s.Add(context.Background(), 1)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrOutOfStock))
				assert.Nil(t, c)
				assert.Equal(t, tt.existing, s.Cart()[0].Amount)
				assert.Equal(t, before, f.persisted(t))
				assert.Equal(t, []string{notify.MsgOutOfStock}, f.recorder.Messages())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.existing+1, c[0].Amount)
			assert.Equal(t, tt.existing+1, s.Cart()[0].Amount)
			assert.Empty(t, f.recorder.Messages())
			f.catalog.AssertNotCalled(t, "Product", mock.Anything, mock.Anything)
		})
	}
}

func TestAdd_LookupFailures(t *testing.T) {
	t.Run("stock", func(t *testing.T) {
		f := newFixture(t, domain.Cart{line(1, 1)})
		f.catalog.On("Stock", mock.Anything, 1).Return(domain.Stock{}, errors.New("timeout"))
		s := f.open()
		before := f.persisted(t)

		_, err := s.Add(context.Background(), 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFailed))
		assert.Equal(t, map[int]int{1: 1}, amounts(s.Cart()))
		assert.Equal(t, before, f.persisted(t))
		assert.Equal(t, []string{notify.MsgAddFailed}, f.recorder.Messages())
	})

	t.Run("product", func(t *testing.T) {
		f := newFixture(t, nil)
		f.catalog.On("Product", mock.Anything, 9).Return(domain.Product{}, errors.New("404"))
		s := f.open()

		_, err := s.Add(context.Background(), 9)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFailed))
		assert.Empty(t, s.Cart())
		_, getErr := f.kv.KV.Get(context.Background(), DefaultKey)
		assert.Error(t, getErr, "nothing should have been persisted")
		assert.Equal(t, []string{notify.MsgAddFailed}, f.recorder.Messages())
	})
}

func TestAdd_PersistFailureLeavesMemoryUnchanged(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1)})
	f.catalog.onStock(1, 10)
	s := f.open()
	f.kv.setErr = errors.New("READONLY")

	_, err := s.Add(context.Background(), 1)
	require.Error(t, err)

	var cartErr *Error
	require.True(t, errors.As(err, &cartErr))
	assert.Equal(t, OpAdd, cartErr.Op)
	assert.Equal(t, KindFailed, cartErr.Kind)
	assert.Contains(t, err.Error(), "READONLY")
	assert.Equal(t, 1, s.Cart()[0].Amount)
	assert.Equal(t, []string{notify.MsgAddFailed}, f.recorder.Messages())
}

// --- Remove ---

func TestRemove_Present(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1), line(2, 3), line(3, 1)})
	s := f.open()

	c, err := s.Remove(context.Background(), 2)
	require.NoError(t, err)

	assert.Len(t, c, 2)
	assert.Equal(t, map[int]int{1: 1, 3: 1}, amounts(c))
	assert.Equal(t, 1, c[0].ID)
	assert.Equal(t, 3, c[1].ID)

	var stored domain.Cart
	require.NoError(t, json.Unmarshal([]byte(f.persisted(t)), &stored))
	assert.Equal(t, map[int]int{1: 1, 3: 1}, amounts(stored))

	f.catalog.AssertNotCalled(t, "Stock", mock.Anything, mock.Anything)
	f.catalog.AssertNotCalled(t, "Product", mock.Anything, mock.Anything)
}

func TestRemove_Absent(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1)})
	s := f.open()
	before := f.persisted(t)

	c, err := s.Remove(context.Background(), 7)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.Len(t, s.Cart(), 1)
	assert.Equal(t, before, f.persisted(t))
	assert.Equal(t, []string{notify.MsgRemoveFailed}, f.recorder.Messages())
}

func TestRemove_PersistFailure(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1)})
	s := f.open()
	f.kv.setErr = errors.New("disk full")

	_, err := s.Remove(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFailed))
	assert.Len(t, s.Cart(), 1)
	assert.Equal(t, []string{notify.MsgRemoveFailed}, f.recorder.Messages())
}

// --- UpdateAmount ---

func TestUpdateAmount_NonPositiveIsNoop(t *testing.T) {
	for _, amount := range []int{0, -1, -100} {
		f := newFixture(t, domain.Cart{line(1, 2)})
		s := f.open()
		before := f.persisted(t)

		c, err := s.UpdateAmount(context.Background(), 1, amount)
		require.NoError(t, err)
		assert.Equal(t, 2, c[0].Amount)

		f.catalog.AssertNumberOfCalls(t, "Stock", 0)
		f.catalog.AssertNumberOfCalls(t, "Product", 0)
		assert.Equal(t, before, f.persisted(t))
		assert.Empty(t, f.recorder.Messages())
	}
}

func TestUpdateAmount_AgainstStock(t *testing.T) {
	tests := []struct {
		name    string
		amount  int
		stock   int
		wantErr bool
	}{
		{"below stock", 3, 10, false},
		{"equal to stock", 10, 10, false},
		{"decrease", 1, 10, false},
		{"above stock", 11, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.Cart{line(1, 2)})
			f.catalog.onStock(1, tt.stock)
			s := f.open()

			c, err := s.UpdateAmount(context.Background(), 1, tt.amount)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrOutOfStock))
				assert.Equal(t, 2, s.Cart()[0].Amount)
				assert.Equal(t, []string{notify.MsgOutOfStock}, f.recorder.Messages())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.amount, c[0].Amount)
			assert.Equal(t, tt.amount, s.Cart()[0].Amount)
			f.catalog.AssertNumberOfCalls(t, "Stock", 1)
		})
	}
}

func TestUpdateAmount_NotInCartAfterStockFetch(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 2)})
	f.catalog.onStock(4, 10)
	s := f.open()

	_, err := s.UpdateAmount(context.Background(), 4, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	f.catalog.AssertNumberOfCalls(t, "Stock", 1)
	assert.Equal(t, []string{notify.MsgUpdateFailed}, f.recorder.Messages())
}

func TestUpdateAmount_StockError(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 2)})
	f.catalog.On("Stock", mock.Anything, 1).Return(domain.Stock{}, context.DeadlineExceeded)
	s := f.open()

	_, err := s.UpdateAmount(context.Background(), 1, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFailed))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2, s.Cart()[0].Amount)
	assert.Equal(t, []string{notify.MsgUpdateFailed}, f.recorder.Messages())
}

// --- Persistence and listeners ---

func TestRoundTrip_ReopenYieldsSameCart(t *testing.T) {
	f := newFixture(t, nil)
	f.catalog.onProduct(1)
	f.catalog.onProduct(2)
	f.catalog.onStock(2, 5)
	s := f.open()

	ctx := context.Background()
	_, err := s.Add(ctx, 1)
	require.NoError(t, err)
	_, err = s.Add(ctx, 2)
	require.NoError(t, err)
	_, err = s.Add(ctx, 2)
	require.NoError(t, err)

	reopened := Open(ctx, f.catalog, f.kv, WithLogger(logger.Discard()))

	want, err := json.Marshal(s.Cart())
	require.NoError(t, err)
	got, err := json.Marshal(reopened.Cart())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, map[int]int{1: 1, 2: 2}, amounts(reopened.Cart()))
}

func TestRoundTrip_PersistsWholeProductRecord(t *testing.T) {
	f := newFixture(t, nil)
	p := product(1)
	p.Attrs = map[string]json.RawMessage{
		"brand": json.RawMessage(`"Nike"`),
		"color": json.RawMessage(`"red"`),
	}
	f.catalog.On("Product", mock.Anything, 1).Return(p, nil)
	s := f.open()

	_, err := s.Add(context.Background(), 1)
	require.NoError(t, err)

	var stored []map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.persisted(t)), &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "Nike", stored[0]["brand"])
	assert.Equal(t, "red", stored[0]["color"])
	assert.Equal(t, 179.9, stored[0]["price"])
	assert.EqualValues(t, 1, stored[0]["amount"])

	reopened := Open(context.Background(), f.catalog, f.kv, WithLogger(logger.Discard()))
	require.Len(t, reopened.Cart(), 1)
	assert.JSONEq(t, `"Nike"`, string(reopened.Cart()[0].Attrs["brand"]))
}

func TestScenario_AddRejectUpdateRemove(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open()
	ctx := context.Background()

	f.catalog.onProduct(1).Once()
	c, err := s.Add(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 1}, amounts(c))

	f.catalog.onStock(1, 1).Once()
	_, err = s.Add(ctx, 1)
	assert.True(t, errors.Is(err, ErrOutOfStock))
	assert.Equal(t, map[int]int{1: 1}, amounts(s.Cart()))

	f.catalog.onStock(1, 10).Once()
	c, err = s.UpdateAmount(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 5}, amounts(c))

	c, err = s.Remove(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, c)
	assert.JSONEq(t, `[]`, f.persisted(t))

	assert.Equal(t, []string{notify.MsgOutOfStock}, f.recorder.Messages())
	f.catalog.AssertExpectations(t)
}

func TestListeners(t *testing.T) {
	f := newFixture(t, nil)
	f.catalog.onProduct(1)
	ok := &recordingListener{}
	broken := &recordingListener{err: errors.New("broker down")}
	s := f.open(WithListeners(broken, ok))

	_, err := s.Add(context.Background(), 1)
	require.NoError(t, err, "listener errors must not fail the operation")

	require.Len(t, ok.carts, 1)
	assert.Equal(t, map[int]int{1: 1}, amounts(ok.carts[0]))
	assert.Len(t, broken.carts, 1)

	_, err = s.Remove(context.Background(), 99)
	require.Error(t, err)
	assert.Len(t, ok.carts, 1, "failed operations are not published")
}

func TestCartReturnsCopy(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1)})
	s := f.open()

	c := s.Cart()
	c[0].Amount = 42
	assert.Equal(t, 1, s.Cart()[0].Amount)
}

func TestConcurrentOperations_StorageMatchesMemory(t *testing.T) {
	f := newFixture(t, domain.Cart{line(1, 1)})
	f.catalog.onStock(1, 1000)
	s := f.open()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				_, _ = s.Add(context.Background(), 1)
			} else {
				_, _ = s.UpdateAmount(context.Background(), 1, n)
			}
		}(i)
	}
	wg.Wait()

	stored, err := json.Marshal(s.Cart())
	require.NoError(t, err)
	assert.JSONEq(t, string(stored), f.persisted(t))
}

// --- Error ---

func TestError_Messages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Op: OpAdd, Kind: KindOutOfStock}, notify.MsgOutOfStock},
		{&Error{Op: OpUpdateAmount, Kind: KindOutOfStock}, notify.MsgOutOfStock},
		{&Error{Op: OpAdd, Kind: KindFailed}, notify.MsgAddFailed},
		{&Error{Op: OpRemove, Kind: KindProductNotFound}, notify.MsgRemoveFailed},
		{&Error{Op: OpUpdateAmount, Kind: KindProductNotFound}, notify.MsgUpdateFailed},
		{&Error{Op: OpUpdateAmount, Kind: KindFailed}, notify.MsgUpdateFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Message(), "%s/%s", tt.err.Op, tt.err.Kind)
	}
}

func TestError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := error(&Error{Op: OpAdd, Kind: KindFailed, Err: cause})

	assert.True(t, errors.Is(err, ErrFailed))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrOutOfStock))
	assert.Equal(t, "cart add: cart operation failed: boom", err.Error())
	assert.Equal(t, "cart remove: product not in cart", (&Error{Op: OpRemove, Kind: KindProductNotFound}).Error())
}
