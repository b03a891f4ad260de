package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propadvisor/orchestrator/internal/conversation"
)

func ptr[T any](v T) *T { return &v }

func TestExtractSouthDelhiExample(t *testing.T) {
	h := Extract("show me 2 bhk in south delhi under 1 cr")

	require.NotNil(t, h.City)
	assert.Equal(t, "New Delhi", *h.City)
	require.NotNil(t, h.RoomType)
	assert.Equal(t, "BHK", *h.RoomType)
	require.NotNil(t, h.MinBeds)
	assert.Equal(t, 2, *h.MinBeds)
	require.NotNil(t, h.MaxPrice)
	assert.Equal(t, float64(10_000_000), *h.MaxPrice)
	assert.Nil(t, h.HasBalcony)
	assert.Nil(t, h.PropertyType)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, h Hints)
	}{
		{
			name:  "lakh shorthand and balcony",
			input: "3BHK flat in Pune below 50L with balcony",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, "Pune", *h.City)
				assert.Equal(t, 3, *h.MinBeds)
				assert.Equal(t, "Flat", *h.PropertyType)
				assert.Equal(t, float64(5_000_000), *h.MaxPrice)
				assert.True(t, *h.HasBalcony)
			},
		},
		{
			name:  "misspelled city and minimum area",
			input: "Looking for a villa in banglore above 1200 sqft",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, "Bangalore", *h.City)
				assert.Empty(t, h.Locality)
				assert.Equal(t, "Villa", *h.PropertyType)
				assert.Equal(t, float64(1200), *h.MinArea)
				assert.Nil(t, h.MaxPrice)
			},
		},
		{
			name:  "locality maps to metro city",
			input: "independent house near hinjewadi without balcony",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, "Pune", *h.City)
				assert.Equal(t, "Hinjewadi", h.Locality)
				assert.Equal(t, "Independent House", *h.PropertyType)
				assert.False(t, *h.HasBalcony)
			},
		},
		{
			name:  "longest alias wins",
			input: "apartments in navi mumbai",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, "Mumbai", *h.City)
				assert.Equal(t, "Navi Mumbai", h.Locality)
			},
		},
		{
			name:  "area bound is not a budget",
			input: "studio under 600 sq ft in thane",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, "Thane", *h.City)
				assert.Nil(t, h.MaxPrice)
				assert.Nil(t, h.MinArea)
			},
		},
		{
			name:  "beds and baths spelled out",
			input: "something with 4 bedrooms and 3 bathrooms within 2.5 crore",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, 4, *h.MinBeds)
				assert.Equal(t, 3, *h.MinBaths)
				assert.Equal(t, float64(25_000_000), *h.MaxPrice)
				assert.Nil(t, h.RoomType)
			},
		},
		{
			name:  "distance is not a budget",
			input: "2 bhk flat in pune within 5 km of the metro",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, 2, *h.MinBeds)
				assert.Nil(t, h.MaxPrice)
			},
		},
		{
			name:  "travel time is not a budget",
			input: "villa under 10 minutes from the airport",
			check: func(t *testing.T, h Hints) {
				assert.Nil(t, h.MaxPrice)
			},
		},
		{
			name:  "room count is not a budget",
			input: "flat in thane with max 2 bathrooms",
			check: func(t *testing.T, h Hints) {
				assert.Nil(t, h.MaxPrice)
				assert.Equal(t, 2, *h.MinBaths)
			},
		},
		{
			name:  "bare large amount is a budget",
			input: "apartment in chennai under 8500000",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, float64(8_500_000), *h.MaxPrice)
			},
		},
		{
			name:  "explicit rupees below the bare floor",
			input: "studio under rs 9000",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, float64(9000), *h.MaxPrice)
			},
		},
		{
			name:  "price and area ranges",
			input: "Show me properties in Pune priced between ₹50 L and ₹1 Cr with an area between 500 and 2000 sq ft",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, "Pune", *h.City)
				assert.Equal(t, float64(10_000_000), *h.MaxPrice)
				assert.Equal(t, float64(500), *h.MinArea)
				assert.Nil(t, h.RoomType)
			},
		},
		{
			name:  "lower bound inherits the unit",
			input: "3 bhk between 60 and 80 lakh",
			check: func(t *testing.T, h Hints) {
				assert.Equal(t, 3, *h.MinBeds)
				assert.Equal(t, float64(8_000_000), *h.MaxPrice)
			},
		},
		{
			name:  "small unitless range is not a budget",
			input: "between 2 and 3 bhk in hyderabad",
			check: func(t *testing.T, h Hints) {
				assert.Nil(t, h.MaxPrice)
				assert.Equal(t, 3, *h.MinBeds)
			},
		},
		{
			name:  "nothing recognisable",
			input: "what is the price per square foot of the second one?",
			check: func(t *testing.T, h Hints) {
				assert.True(t, h.Empty())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Extract(tt.input))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]float64{
		"1 cr":     10_000_000,
		"50L":      5_000_000,
		"75 lakh":  7_500_000,
		"₹80k":     80_000,
		"9,000,000": 9_000_000,
	}
	for in, want := range tests {
		got, ok := ParseAmount(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseAmount("cheap")
	assert.False(t, ok)
	_, ok = ParseAmount("5 acres")
	assert.False(t, ok)
}

func TestCanonicalValues(t *testing.T) {
	c, ok := CanonicalCity(" bengaluru ")
	assert.True(t, ok)
	assert.Equal(t, "Bangalore", c)

	_, ok = CanonicalCity("Paris")
	assert.False(t, ok)

	rt, ok := CanonicalRoomType("2 BHK")
	assert.True(t, ok)
	assert.Equal(t, "BHK", rt)

	pt, ok := CanonicalPropertyType("Apartment")
	assert.True(t, ok)
	assert.Equal(t, "Flat", pt)
}

func TestReconcileFillsAndOverrides(t *testing.T) {
	q := conversation.EnhancedQuery{
		EnhancedUserQuery: "2 BHK flats in Delhi under 1 crore",
		City:              ptr("delhi"),
		RoomType:          ptr("Duplex"),
		MaxPrice:          ptr(float64(1_000_000)),
		PropertyType:      ptr("apartment"),
		MinBaths:          ptr(-1),
	}
	h := Extract("show me 2 bhk in south delhi under 1 cr")

	out := Reconcile(q, h)

	assert.Equal(t, "New Delhi", *out.City)
	assert.Equal(t, "BHK", *out.RoomType)
	assert.Equal(t, 2, *out.MinBeds)
	assert.Equal(t, float64(10_000_000), *out.MaxPrice)
	assert.Equal(t, "Flat", *out.PropertyType)
	assert.Nil(t, out.MinBaths)
	assert.Equal(t, q.EnhancedUserQuery, out.EnhancedUserQuery)

	// input is untouched
	assert.Equal(t, "delhi", *q.City)
}

func TestReconcileDropsUnknownEnums(t *testing.T) {
	out := Reconcile(conversation.EnhancedQuery{City: ptr("Atlantis"), PropertyType: ptr("castle")}, Hints{})
	assert.Nil(t, out.City)
	assert.Nil(t, out.PropertyType)
}

func TestConstraints(t *testing.T) {
	h := Extract("2 bhk near gurgaon under 90 lakh")
	assert.Equal(t, "city: New Delhi (near Gurgaon)\nroom type: 2 BHK\nmaximum price: 9000000", h.Constraints())
	assert.Empty(t, Hints{}.Constraints())
}

func TestReconcileKeepsNullPriceForDistances(t *testing.T) {
	q := Reconcile(conversation.EnhancedQuery{EnhancedUserQuery: "2 BHK flat in Pune near the metro"},
		Extract("2 bhk flat in pune within 5 km of the metro"))
	assert.Nil(t, q.MaxPrice)
	require.NotNil(t, q.City)
	assert.Equal(t, "Pune", *q.City)
}
