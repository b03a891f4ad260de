// Package normalize maps free-form real-estate phrasing onto the canonical
// vocabulary shared by the graph and relational property stores.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/propadvisor/orchestrator/internal/conversation"
)

// Currency multipliers for Indian shorthand
const (
	Thousand = 1_000
	Lakh     = 100_000
	Crore    = 10_000_000
)

var (
	Cities        = []string{"Chennai", "Bangalore", "Hyderabad", "Mumbai", "Thane", "Kolkata", "Pune", "New Delhi"}
	PropertyTypes = []string{"Flat", "Independent House", "Villa", "Studio"}
	RoomTypes     = []string{"BHK", "RK", "R", "BH"}
)

// cityAliases maps lowercase mentions (cities, misspellings, localities) to a
// canonical city. Localities keep their own name as Hints.Locality.
var cityAliases = map[string]string{
	"chennai": "Chennai", "madras": "Chennai", "tambaram": "Chennai", "velachery": "Chennai",
	"omr": "Chennai", "ecr": "Chennai",

	"bangalore": "Bangalore", "bengaluru": "Bangalore", "banglore": "Bangalore",
	"whitefield": "Bangalore", "electronic city": "Bangalore", "hsr": "Bangalore",
	"hsr layout": "Bangalore", "koramangala": "Bangalore",

	"hyderabad": "Hyderabad", "secunderabad": "Hyderabad", "gachibowli": "Hyderabad",
	"hitec city": "Hyderabad", "hitec": "Hyderabad",

	"mumbai": "Mumbai", "bombay": "Mumbai", "navi mumbai": "Mumbai",

	"thane": "Thane",

	"kolkata": "Kolkata", "calcutta": "Kolkata", "howrah": "Kolkata", "salt lake": "Kolkata",
	"new town": "Kolkata", "rajarhat": "Kolkata",

	"pune": "Pune", "pimpri": "Pune", "chinchwad": "Pune", "pcmc": "Pune",
	"hinjewadi": "Pune", "hinjawadi": "Pune", "wakad": "Pune",

	"new delhi": "New Delhi", "newdelhi": "New Delhi", "delhi": "New Delhi", "ncr": "New Delhi",
	"gurgaon": "New Delhi", "gurugram": "New Delhi", "noida": "New Delhi",
	"greater noida": "New Delhi", "ghaziabad": "New Delhi", "faridabad": "New Delhi",
	"dwarka": "New Delhi", "saket": "New Delhi", "rohini": "New Delhi", "pitampura": "New Delhi",
}

var propertyTypeAliases = map[string]string{
	"flat": "Flat", "flats": "Flat", "apartment": "Flat", "apartments": "Flat",
	"villa": "Villa", "villas": "Villa",
	"studio": "Studio", "studios": "Studio",
	"independent house": "Independent House", "independent houses": "Independent House",
	"independent home": "Independent House",
}

var roomTypeAliases = map[string]string{
	"bhk": "BHK", "b": "BHK",
	"bh": "BH",
	"rk": "RK",
	"r": "R",
}

const amountUnits = `crores|crore|cr|lakhs|lakh|lacs|lac|l|thousand|k`

// MinBareAmount is the smallest number without a currency marker or unit
// read as a budget; "within 5 km" and "max 2 bathrooms" stay unpriced
const MinBareAmount = 10_000

var (
	cityPattern         = aliasPattern(cityAliases)
	propertyTypePattern = aliasPattern(propertyTypeAliases)

	roomPattern  = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(bhk|bh|rk|r|b)\b`)
	bedsPattern  = regexp.MustCompile(`\b(\d+)\s*(?:bed|beds|bedroom|bedrooms)\b`)
	bathsPattern = regexp.MustCompile(`\b(\d+)\s*(?:bath|baths|bathroom|bathrooms)\b`)

	pricePattern = regexp.MustCompile(`\b(under|below|less than|within|upto|up to|max|maximum|budget of|budget)\s*(rs\.?|inr|₹)?\s*(\d+(?:\.\d+)?)\s*(?:(` + amountUnits + `)\b)?`)
	rangePattern = regexp.MustCompile(`\bbetween\s+(rs\.?|inr|₹)?\s*(\d+(?:\.\d+)?)\s*(?:(` + amountUnits + `)\b)?\s*(?:and|to|-)\s*(rs\.?|inr|₹)?\s*(\d+(?:\.\d+)?)\s*(?:(` + amountUnits + `)\b)?`)
	areaPattern  = regexp.MustCompile(`(?:\b(more than|above|over|at least|atleast|minimum|min|under|below|less than)\s+)?(\d+(?:\.\d+)?)\s*(?:sq\.?\s*ft|sqft|sq\s*feet|square\s*feet|sft)\b`)

	noBalconyPattern = regexp.MustCompile(`\b(?:without|no)\s+(?:a\s+)?balcon(?:y|ies)\b`)
	balconyPattern   = regexp.MustCompile(`\bbalcon(?:y|ies)\b`)
)

// Hints are the constraints that can be read deterministically from an
// utterance. Nil fields were not mentioned.
type Hints struct {
	City         *string
	Locality     string
	RoomType     *string
	MinBeds      *int
	MinBaths     *int
	MaxPrice     *float64
	MinArea      *float64
	PropertyType *string
	HasBalcony   *bool
}

// Empty reports whether nothing was recognised
func (h Hints) Empty() bool {
	return h.City == nil && h.RoomType == nil && h.MinBeds == nil && h.MinBaths == nil &&
		h.MaxPrice == nil && h.MinArea == nil && h.PropertyType == nil && h.HasBalcony == nil
}

// Extract reads Hints out of text
func Extract(text string) Hints {
	lower := strings.ToLower(text)
	var h Hints

	if loc := cityPattern.FindStringIndex(lower); loc != nil {
		mention := lower[loc[0]:loc[1]]
		city := cityAliases[mention]
		h.City = &city
		if !strings.EqualFold(mention, city) && !isSpelling(mention, city) {
			h.Locality = titleCase(mention)
		}
	}

	// ranges are consumed first so their bounds are not read again as
	// single-sided limits
	masked := extractRanges(lower, &h)

	if m := roomPattern.FindStringSubmatch(masked); m != nil {
		rt := roomTypeAliases[m[2]]
		h.RoomType = &rt
		if n, err := strconv.ParseFloat(m[1], 64); err == nil && n >= 1 {
			beds := int(n)
			h.MinBeds = &beds
		}
	}
	if h.MinBeds == nil {
		if m := bedsPattern.FindStringSubmatch(masked); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				h.MinBeds = &n
			}
		}
	}
	if m := bathsPattern.FindStringSubmatch(masked); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			h.MinBaths = &n
		}
	}

	if h.MaxPrice == nil {
		for _, m := range pricePattern.FindAllStringSubmatchIndex(masked, -1) {
			currency, unit := group(masked, m, 2), group(masked, m, 4)
			// "under 1200 sq ft" is an area, not a budget
			if unit == "" && looksLikeArea(masked[m[1]:]) {
				continue
			}
			amount, err := strconv.ParseFloat(group(masked, m, 3), 64)
			if err != nil {
				continue
			}
			price := amount * multiplier(unit)
			if currency == "" && unit == "" && price < MinBareAmount {
				continue
			}
			h.MaxPrice = &price
			break
		}
	}

	if h.MinArea == nil {
		if m := areaPattern.FindStringSubmatch(masked); m != nil {
			switch m[1] {
			case "under", "below", "less than":
			default:
				if n, err := strconv.ParseFloat(m[2], 64); err == nil {
					h.MinArea = &n
				}
			}
		}
	}

	if loc := propertyTypePattern.FindStringIndex(lower); loc != nil {
		pt := propertyTypeAliases[lower[loc[0]:loc[1]]]
		h.PropertyType = &pt
	}

	switch {
	case noBalconyPattern.MatchString(lower):
		v := false
		h.HasBalcony = &v
	case balconyPattern.MatchString(lower):
		v := true
		h.HasBalcony = &v
	}

	return h
}

// ParseAmount parses strings such as "1 cr", "50L", "75 lakh" or "9000000"
func ParseAmount(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "₹")
	s = strings.TrimPrefix(s, "rs.")
	s = strings.TrimPrefix(s, "rs")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")

	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, false
	}
	unit := strings.TrimSpace(s[i:])
	if unit != "" && multiplier(unit) == 1 {
		return 0, false
	}
	return n * multiplier(unit), true
}

// CanonicalCity maps a city name or known alias to its canonical form
func CanonicalCity(s string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if city, ok := cityAliases[key]; ok {
		return city, true
	}
	return "", false
}

// CanonicalPropertyType maps a property type mention to its canonical form
func CanonicalPropertyType(s string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if pt, ok := propertyTypeAliases[key]; ok {
		return pt, true
	}
	return "", false
}

// CanonicalRoomType accepts "BHK", "2 BHK", "rk" and similar
func CanonicalRoomType(s string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "0123456789. ")))
	if rt, ok := roomTypeAliases[key]; ok {
		return rt, true
	}
	return "", false
}

// Reconcile canonicalises a structured rewrite and aligns it with hints
// read from the same utterance. Hints fill missing fields and win conflicts;
// enum values outside the canonical vocabulary are dropped.
func Reconcile(q conversation.EnhancedQuery, h Hints) conversation.EnhancedQuery {
	out := q
	out.City = canonicalPtr(q.City, CanonicalCity)
	out.PropertyType = canonicalPtr(q.PropertyType, CanonicalPropertyType)
	out.RoomType = canonicalPtr(q.RoomType, CanonicalRoomType)
	out.MinBeds = nonNegativeInt(q.MinBeds)
	out.MinBaths = nonNegativeInt(q.MinBaths)
	out.MaxPrice = positiveFloat(q.MaxPrice)
	out.MinArea = positiveFloat(q.MinArea)

	if h.City != nil {
		out.City = copyPtr(h.City)
	}
	if h.PropertyType != nil {
		out.PropertyType = copyPtr(h.PropertyType)
	}
	if h.RoomType != nil {
		out.RoomType = copyPtr(h.RoomType)
	}
	if h.MinBeds != nil {
		out.MinBeds = copyPtr(h.MinBeds)
	}
	if h.MinBaths != nil {
		out.MinBaths = copyPtr(h.MinBaths)
	}
	if h.MaxPrice != nil {
		out.MaxPrice = copyPtr(h.MaxPrice)
	}
	if h.MinArea != nil {
		out.MinArea = copyPtr(h.MinArea)
	}
	if h.HasBalcony != nil {
		out.HasBalcony = copyPtr(h.HasBalcony)
	}
	return out
}

// Constraints renders hints as a line-per-constraint list for prompts
func (h Hints) Constraints() string {
	var lines []string
	if h.City != nil {
		line := "city: " + *h.City
		if h.Locality != "" {
			line += " (near " + h.Locality + ")"
		}
		lines = append(lines, line)
	}
	if h.RoomType != nil {
		if h.MinBeds != nil {
			lines = append(lines, fmt.Sprintf("room type: %d %s", *h.MinBeds, *h.RoomType))
		} else {
			lines = append(lines, "room type: "+*h.RoomType)
		}
	} else if h.MinBeds != nil {
		lines = append(lines, fmt.Sprintf("minimum beds: %d", *h.MinBeds))
	}
	if h.MinBaths != nil {
		lines = append(lines, fmt.Sprintf("minimum baths: %d", *h.MinBaths))
	}
	if h.MaxPrice != nil {
		lines = append(lines, "maximum price: "+strconv.FormatFloat(*h.MaxPrice, 'f', -1, 64))
	}
	if h.MinArea != nil {
		lines = append(lines, "minimum area (sq ft): "+strconv.FormatFloat(*h.MinArea, 'f', -1, 64))
	}
	if h.PropertyType != nil {
		lines = append(lines, "property type: "+*h.PropertyType)
	}
	if h.HasBalcony != nil {
		lines = append(lines, "has balcony: "+strconv.FormatBool(*h.HasBalcony))
	}
	return strings.Join(lines, "\n")
}

func multiplier(unit string) float64 {
	switch unit {
	case "cr", "crore", "crores":
		return Crore
	case "l", "lakh", "lakhs", "lac", "lacs":
		return Lakh
	case "k", "thousand":
		return Thousand
	}
	return 1
}

// extractRanges reads "between X and Y" phrases into h and returns lower
// with those phrases blanked. An area range gives the minimum area, a price
// range gives the maximum price; the lower bound inherits the upper's unit.
func extractRanges(lower string, h *Hints) string {
	masked := []byte(lower)
	for _, m := range rangePattern.FindAllStringSubmatchIndex(lower, -1) {
		low, errLow := strconv.ParseFloat(group(lower, m, 2), 64)
		high, errHigh := strconv.ParseFloat(group(lower, m, 5), 64)
		if errLow != nil || errHigh != nil {
			continue
		}
		currency := group(lower, m, 1) + group(lower, m, 4)
		unit := group(lower, m, 6)
		if unit == "" {
			unit = group(lower, m, 3)
		}

		switch {
		case currency == "" && unit == "" && looksLikeArea(lower[m[1]:]):
			if h.MinArea == nil {
				h.MinArea = &low
			}
		default:
			price := high * multiplier(unit)
			if currency == "" && unit == "" && price < MinBareAmount {
				continue
			}
			if h.MaxPrice == nil {
				h.MaxPrice = &price
			}
		}
		for i := m[0]; i < m[1]; i++ {
			masked[i] = ' '
		}
	}
	return string(masked)
}

// group returns submatch n of a FindAllStringSubmatchIndex match, or ""
func group(s string, m []int, n int) string {
	if m[2*n] < 0 {
		return ""
	}
	return s[m[2*n]:m[2*n+1]]
}

func looksLikeArea(rest string) bool {
	rest = strings.TrimSpace(rest)
	return strings.HasPrefix(rest, "sq") || strings.HasPrefix(rest, "square") || strings.HasPrefix(rest, "sft")
}

func isSpelling(mention, city string) bool {
	switch mention {
	case "bengaluru", "banglore", "madras", "bombay", "calcutta", "newdelhi", "delhi":
		return true
	}
	return strings.ReplaceAll(mention, " ", "") == strings.ToLower(strings.ReplaceAll(city, " ", ""))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) <= 3 {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// aliasPattern matches any alias as a whole word, longest alias first
func aliasPattern(aliases map[string]string) *regexp.Regexp {
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return regexp.MustCompile(`\b(?:` + strings.Join(keys, "|") + `)\b`)
}

func canonicalPtr(v *string, canon func(string) (string, bool)) *string {
	if v == nil {
		return nil
	}
	c, ok := canon(*v)
	if !ok {
		return nil
	}
	return &c
}

func nonNegativeInt(v *int) *int {
	if v == nil || *v < 0 {
		return nil
	}
	return copyPtr(v)
}

func positiveFloat(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return copyPtr(v)
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
