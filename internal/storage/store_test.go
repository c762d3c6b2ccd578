package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olxmonitor/internal/district"
	"olxmonitor/internal/listing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func candidate(id string, price float64, observed time.Time) listing.Candidate {
	area := 64.5
	rooms := 3
	return listing.Candidate{
		ExternalID:       id,
		Title:            "3-кімнатна квартира в центрі",
		URL:              "https://www.olx.ua/d/uk/obyavlenie/kvartira-ID" + id + ".html",
		Price:            &listing.Price{Amount: price, Currency: "USD"},
		LocationCity:     "Івано-Франківськ",
		LocationText:     "Івано-Франківськ, вул. Галицька",
		District:         "Центр",
		DistrictSource:   "mapping",
		Street:           "Галицька",
		Rooms:            &rooms,
		Area:             &area,
		Description:      "Квартира від власника",
		SellerType:       listing.SellerOwner,
		SellerConfidence: 0.8,
		Evidence: []listing.Signal{
			{Name: "keyword", Value: "власник", Weight: 1, Side: "owner"},
		},
		ObservedAt: observed,
	}
}

func ts(hour, minute int) time.Time {
	return time.Date(2026, 8, 30, hour, minute, 0, 0, time.UTC)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	assert.Error(t, err)
}

func TestOpenSeedsStreetMappings(t *testing.T) {
	store := openTestStore(t)

	mappings, err := store.StreetMappings(context.Background())
	require.NoError(t, err)

	seed := district.DefaultMappings()
	require.Len(t, mappings, len(seed))
	// Priority order must survive the round trip
	for i, m := range seed {
		assert.Equal(t, m.Street, mappings[i].Street)
		assert.Equal(t, m.District, mappings[i].District)
	}
}

func TestUpsertInsertsNewListing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	observed := ts(10, 0)
	isNew, err := store.Upsert(ctx, candidate("abc1", 50000, observed))
	require.NoError(t, err)
	assert.True(t, isNew)

	rec, err := store.Get(ctx, "abc1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsActive)
	assert.Equal(t, "Центр", rec.District)
	assert.Equal(t, listing.SellerOwner, rec.SellerType)
	require.NotNil(t, rec.Price)
	assert.Equal(t, 50000.0, rec.Price.Amount)
	assert.True(t, rec.FirstSeenAt.Equal(observed))
	assert.True(t, rec.LastSeenAt.Equal(observed))
	require.Len(t, rec.Evidence, 1)
	assert.Equal(t, "власник", rec.Evidence[0].Value)

	// The initial price is the first history entry
	history, err := store.PriceHistory(ctx, "abc1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 50000.0, history[0].Amount)
}

func TestUpsertIsIdempotentOnUnchangedPrice(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, candidate("abc2", 50000, ts(10, 0)))
	require.NoError(t, err)

	isNew, err := store.Upsert(ctx, candidate("abc2", 50000, ts(11, 0)))
	require.NoError(t, err)
	assert.False(t, isNew)

	history, err := store.PriceHistory(ctx, "abc2")
	require.NoError(t, err)
	assert.Len(t, history, 1, "unchanged price must not grow the history")

	rec, err := store.Get(ctx, "abc2")
	require.NoError(t, err)
	assert.True(t, rec.FirstSeenAt.Equal(ts(10, 0)), "first seen never moves")
	assert.True(t, rec.LastSeenAt.Equal(ts(11, 0)))
}

func TestUpsertAppendsHistoryOnPriceChange(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, candidate("123", 50000, ts(10, 0)))
	require.NoError(t, err)

	isNew, err := store.Upsert(ctx, candidate("123", 52000, ts(11, 0)))
	require.NoError(t, err)
	assert.False(t, isNew)

	history, err := store.PriceHistory(ctx, "123")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 50000.0, history[0].Amount)
	assert.Equal(t, 52000.0, history[1].Amount)

	rec, err := store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, 52000.0, rec.Price.Amount)
}

func TestUpsertWithoutPriceKeepsHistoryEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := candidate("nop", 0, ts(10, 0))
	c.Price = nil
	_, err := store.Upsert(ctx, c)
	require.NoError(t, err)

	history, err := store.PriceHistory(ctx, "nop")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUnpricedObservationDoesNotReenterOldPrice(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, candidate("gap", 50000, ts(10, 0)))
	require.NoError(t, err)

	// The price disappears from the listing for one observation
	unpriced := candidate("gap", 0, ts(11, 0))
	unpriced.Price = nil
	_, err = store.Upsert(ctx, unpriced)
	require.NoError(t, err)

	rec, err := store.Get(ctx, "gap")
	require.NoError(t, err)
	assert.Nil(t, rec.Price)

	// It reappears at the old value: nothing actually changed
	_, err = store.Upsert(ctx, candidate("gap", 50000, ts(12, 0)))
	require.NoError(t, err)

	history, err := store.PriceHistory(ctx, "gap")
	require.NoError(t, err)
	assert.Len(t, history, 1, "an unchanged price must not re-enter the history")

	// A genuinely new value after the gap still lands
	_, err = store.Upsert(ctx, candidate("gap", 52000, ts(13, 0)))
	require.NoError(t, err)

	history, err = store.PriceHistory(ctx, "gap")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 52000.0, history[1].Amount)
}

func TestUpsertRejectsEmptyExternalID(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Upsert(context.Background(), listing.Candidate{Title: "x"})
	assert.Error(t, err)
}

func TestLastSeenNeverMovesBackwards(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, candidate("mono", 50000, ts(12, 0)))
	require.NoError(t, err)

	// An out-of-order observation must not rewind last_seen_at
	_, err = store.Upsert(ctx, candidate("mono", 50000, ts(9, 0)))
	require.NoError(t, err)

	rec, err := store.Get(ctx, "mono")
	require.NoError(t, err)
	assert.True(t, rec.LastSeenAt.Equal(ts(12, 0)))
}

func TestSweepInactive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, candidate("123", 50000, ts(10, 0)))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, candidate("456", 61000, ts(10, 1)))
	require.NoError(t, err)

	// Second run sees only 123, with a new price
	_, err = store.Upsert(ctx, candidate("123", 52000, ts(11, 0)))
	require.NoError(t, err)

	sweepTime := ts(11, 5)
	affected, err := store.SweepInactive(ctx, []string{"123"}, sweepTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	seen, err := store.Get(ctx, "123")
	require.NoError(t, err)
	assert.True(t, seen.IsActive)
	assert.Equal(t, 52000.0, seen.Price.Amount)

	gone, err := store.Get(ctx, "456")
	require.NoError(t, err)
	assert.False(t, gone.IsActive)
	assert.True(t, gone.LastSeenAt.Equal(sweepTime))

	// Sweeping again deactivates nothing further
	affected, err = store.SweepInactive(ctx, []string{"123"}, ts(11, 10))
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestSweepRefusesEmptySeenSet(t *testing.T) {
	store := openTestStore(t)

	_, err := store.SweepInactive(context.Background(), nil, ts(11, 0))
	assert.ErrorIs(t, err, ErrEmptySweep)
}

func TestReactivationKeepsFirstSeen(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	firstSeen := ts(10, 0)
	_, err := store.Upsert(ctx, candidate("back", 50000, firstSeen))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, candidate("other", 61000, firstSeen))
	require.NoError(t, err)

	_, err = store.SweepInactive(ctx, []string{"other"}, ts(11, 0))
	require.NoError(t, err)

	rec, err := store.Get(ctx, "back")
	require.NoError(t, err)
	require.False(t, rec.IsActive)

	// The listing reappears a day later
	reappeared := ts(23, 30)
	isNew, err := store.Upsert(ctx, candidate("back", 50000, reappeared))
	require.NoError(t, err)
	assert.False(t, isNew, "reappearance is an update, not a new record")

	rec, err = store.Get(ctx, "back")
	require.NoError(t, err)
	assert.True(t, rec.IsActive)
	assert.True(t, rec.FirstSeenAt.Equal(firstSeen))
	assert.True(t, rec.LastSeenAt.Equal(reappeared))
}

func TestGetReturnsNilForMissing(t *testing.T) {
	store := openTestStore(t)

	rec, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetActiveFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cheap := candidate("f1", 35000, ts(10, 0))
	cheap.District = "Пасічна"
	cheap.SellerType = listing.SellerAgency
	_, err := store.Upsert(ctx, cheap)
	require.NoError(t, err)

	mid := candidate("f2", 52000, ts(10, 1))
	_, err = store.Upsert(ctx, mid)
	require.NoError(t, err)

	expensive := candidate("f3", 95000, ts(10, 2))
	_, err = store.Upsert(ctx, expensive)
	require.NoError(t, err)

	all, err := store.GetActive(ctx, Filters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Most recently observed first
	assert.Equal(t, "f3", all[0].ExternalID)

	center, err := store.GetActive(ctx, Filters{District: "Центр"})
	require.NoError(t, err)
	assert.Len(t, center, 2)

	owners, err := store.GetActive(ctx, Filters{SellerType: listing.SellerOwner})
	require.NoError(t, err)
	assert.Len(t, owners, 2)

	priced, err := store.GetActive(ctx, Filters{MinPrice: 40000, MaxPrice: 60000})
	require.NoError(t, err)
	require.Len(t, priced, 1)
	assert.Equal(t, "f2", priced[0].ExternalID)
}

func TestStatistics(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := candidate("s1", 40000, ts(10, 0))
	_, err := store.Upsert(ctx, a)
	require.NoError(t, err)

	b := candidate("s2", 60000, ts(10, 1))
	b.District = "БАМ"
	b.SellerType = listing.SellerAgency
	_, err = store.Upsert(ctx, b)
	require.NoError(t, err)

	c := candidate("s3", 80000, ts(10, 2))
	_, err = store.Upsert(ctx, c)
	require.NoError(t, err)

	_, err = store.SweepInactive(ctx, []string{"s1", "s2"}, ts(11, 0))
	require.NoError(t, err)

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Inactive)
	assert.Equal(t, 1, stats.BySellerType["owner"])
	assert.Equal(t, 1, stats.BySellerType["agency"])
	assert.Equal(t, 1, stats.ByDistrict["Центр"])
	assert.Equal(t, 1, stats.ByDistrict["БАМ"])
	assert.Equal(t, 2, stats.PriceStats.Priced)
	assert.Equal(t, 40000.0, stats.PriceStats.Min)
	assert.Equal(t, 60000.0, stats.PriceStats.Max)
	assert.InDelta(t, 50000.0, stats.PriceStats.Average, 0.001)
	require.NotNil(t, stats.LastUpdate)
	assert.True(t, stats.LastUpdate.Equal(ts(10, 1)))
}

func TestSaveSession(t *testing.T) {
	store := openTestStore(t)

	err := store.SaveSession(context.Background(), listing.RunStats{
		StartTime:      ts(10, 0),
		EndTime:        ts(10, 30),
		PagesScraped:   12,
		TotalProcessed: 480,
		NewCount:       15,
		UpdatedCount:   465,
		ErrorCount:     2,
		Success:        true,
	})
	assert.NoError(t, err)
}
