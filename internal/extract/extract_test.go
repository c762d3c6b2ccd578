package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalID(t *testing.T) {
	tests := []struct {
		url  string
		id   string
		ok   bool
		name string
	}{
		{"https://www.olx.ua/d/uk/obyavlenie/prodam-kvartiru-IDXw9Zp.html", "Xw9Zp", true, "id marker"},
		{"https://www.olx.ua/d/uk/obyavlenie/abc123.html", "abc123", true, "html slug"},
		{"https://www.olx.ua/d/uk/nedvizhimost/", "", false, "no id"},
		{"", "", false, "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ExternalID(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		text     string
		amount   float64
		currency string
		name     string
	}{
		{"52 000 $", 52000, "USD", "space grouped with dollar"},
		{"52\u00a0000 $", 52000, "USD", "nbsp grouped"},
		{"1.250.000 грн", 1250000, "UAH", "dot grouped hryvnia"},
		{"45,500.50 USD", 45500.50, "USD", "decimal tail"},
		{"67000", 67000, "USD", "bare number defaults to USD"},
		{"900 €", 900, "EUR", "euro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, ok := Price(tt.text)
			require.True(t, ok)
			assert.InDelta(t, tt.amount, price.Amount, 0.001)
			assert.Equal(t, tt.currency, price.Currency)
		})
	}
}

func TestPriceRejectsMalformed(t *testing.T) {
	for _, text := range []string{"", "???", "Договірна", "0 $", "999 999 999 $"} {
		price, ok := Price(text)
		assert.False(t, ok, "expected rejection for %q", text)
		assert.Nil(t, price)
	}
}

func TestArea(t *testing.T) {
	area, ok := Area("Квартира 64.5 м² з ремонтом")
	require.True(t, ok)
	assert.InDelta(t, 64.5, area, 0.001)

	area, ok = Area("площа 48")
	require.True(t, ok)
	assert.InDelta(t, 48, area, 0.001)

	// Out of bounds is discarded, not clamped
	_, ok = Area("9 м²")
	assert.False(t, ok)
	_, ok = Area("750 кв.м")
	assert.False(t, ok)
	_, ok = Area("затишна квартира")
	assert.False(t, ok)
}

func TestRooms(t *testing.T) {
	rooms, ok := Rooms("3-кімнатна квартира")
	require.True(t, ok)
	assert.Equal(t, 3, rooms)

	rooms, ok = Rooms("2 к. квартира в центрі")
	require.True(t, ok)
	assert.Equal(t, 2, rooms)

	_, ok = Rooms("15 кімнат")
	assert.False(t, ok)
	_, ok = Rooms("квартира")
	assert.False(t, ok)
}

func TestFloor(t *testing.T) {
	floor, total := Floor("5/9 поверх, цегла")
	require.NotNil(t, floor)
	require.NotNil(t, total)
	assert.Equal(t, 5, *floor)
	assert.Equal(t, 9, *total)

	floor, total = Floor("3 поверх")
	require.NotNil(t, floor)
	assert.Equal(t, 3, *floor)
	assert.Nil(t, total)

	// Floor above the building total is nonsense
	floor, total = Floor("12/9 поверх")
	assert.Nil(t, floor)
	assert.Nil(t, total)

	floor, total = Floor("без ліфта")
	assert.Nil(t, floor)
	assert.Nil(t, total)
}

func TestBuildingTypeAndRenovation(t *testing.T) {
	bt, ok := BuildingType("Продам квартиру в новобудові, новобудова 2023")
	require.True(t, ok)
	assert.Equal(t, "новобудова", bt)

	_, ok = BuildingType("квартира біля парку")
	assert.False(t, ok)

	rs, ok := Renovation("зроблений якісний євроремонт")
	require.True(t, ok)
	assert.Equal(t, "євроремонт", rs)

	rs, ok = Renovation("квартира під ремонт")
	require.True(t, ok)
	assert.Equal(t, "потребує ремонту", rs)

	_, ok = Renovation("гарний стан")
	assert.False(t, ok)
}

func TestParseFields(t *testing.T) {
	fields := ParseFields("3-кімнатна квартира 64.5 м², 5/9 поверх, цегла, євроремонт")

	require.NotNil(t, fields.Rooms)
	assert.Equal(t, 3, *fields.Rooms)
	require.NotNil(t, fields.Area)
	assert.InDelta(t, 64.5, *fields.Area, 0.001)
	require.NotNil(t, fields.Floor)
	assert.Equal(t, 5, *fields.Floor)
	require.NotNil(t, fields.FloorsTotal)
	assert.Equal(t, 9, *fields.FloorsTotal)
	require.NotNil(t, fields.BuildingType)
	assert.Equal(t, "цегла", *fields.BuildingType)
	require.NotNil(t, fields.Renovation)
	assert.Equal(t, "євроремонт", *fields.Renovation)

	// Partial input leaves the rest nil
	partial := ParseFields("2-кімнатна квартира")
	require.NotNil(t, partial.Rooms)
	assert.Nil(t, partial.Area)
	assert.Nil(t, partial.Floor)
	assert.Nil(t, partial.BuildingType)
	assert.Nil(t, partial.Renovation)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", CleanText("  a\n\tb   c  "))
	assert.Equal(t, "", CleanText("   "))
}
