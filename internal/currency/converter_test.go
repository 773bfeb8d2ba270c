package currency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sgal-dev/sgal/internal/shared"
)

type memoryCurrencyRepo struct {
	currencies map[int64]Currency
	reads      int
}

func (r *memoryCurrencyRepo) Get(ctx context.Context, id int64) (Currency, error) {
	r.reads++
	c, ok := r.currencies[id]
	if !ok {
		return Currency{}, shared.ErrNotFound
	}
	return c, nil
}

func (r *memoryCurrencyRepo) List(ctx context.Context) ([]Currency, error) {
	out := make([]Currency, 0, len(r.currencies))
	for _, c := range r.currencies {
		out = append(out, c)
	}
	return out, nil
}

func newTestConverter(t *testing.T, repo Repository) *Converter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewConverter(repo, rdb, time.Minute)
}

func TestConverterToLocal(t *testing.T) {
	repo := &memoryCurrencyRepo{currencies: map[int64]Currency{
		1: {ID: 1, Code: "AOA", Name: "Kwanza", Symbol: "Kz", RateToLocal: 1},
		2: {ID: 2, Code: "USD", Name: "US Dollar", Symbol: "$", RateToLocal: 830},
	}}
	conv := newTestConverter(t, repo)

	local, rate, err := conv.ToLocal(context.Background(), 2, 1000)
	require.NoError(t, err)
	require.Equal(t, 830.0, rate)
	require.Equal(t, 830000.0, local)

	local, rate, err = conv.ToLocal(context.Background(), 1, 250000)
	require.NoError(t, err)
	require.Equal(t, 1.0, rate)
	require.Equal(t, 250000.0, local)
}

func TestConverterCachesLookups(t *testing.T) {
	repo := &memoryCurrencyRepo{currencies: map[int64]Currency{
		2: {ID: 2, Code: "USD", RateToLocal: 830},
	}}
	conv := newTestConverter(t, repo)

	_, err := conv.Resolve(context.Background(), 2)
	require.NoError(t, err)
	_, err = conv.Resolve(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 1, repo.reads)

	require.NoError(t, conv.Invalidate(context.Background(), 2))
	_, err = conv.Resolve(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, repo.reads)
}

func TestConverterUnknownCurrency(t *testing.T) {
	conv := newTestConverter(t, &memoryCurrencyRepo{currencies: map[int64]Currency{}})
	_, _, err := conv.ToLocal(context.Background(), 9, 10)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConverterRejectsZeroRate(t *testing.T) {
	repo := &memoryCurrencyRepo{currencies: map[int64]Currency{
		3: {ID: 3, Code: "XTS", RateToLocal: 0},
	}}
	conv := newTestConverter(t, repo)
	_, _, err := conv.ToLocal(context.Background(), 3, 10)
	require.ErrorIs(t, err, shared.ErrValidation)
}
