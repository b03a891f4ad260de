package agents

import (
	"regexp"
	"strings"

	"github.com/propadvisor/orchestrator/internal/normalize"
)

// Fixed replies
const (
	NoResultsReply     = "No properties found matching your request. Try relaxing some of the filters."
	NoMoreResultsReply = "No more properties found beyond the ones already shown. Try changing the location or budget."
	NoContextReply     = "I have not shown you any properties yet. Tell me what you are looking for, for example \"2 BHK flat in Pune under 80 lakh\"."
)

var (
	rentPattern = regexp.MustCompile(`(?i)\b(rent|rents|rental|rentals|renting|lease|leasing|tenant|tenants|pg|paying guest)\b`)

	// "id: 12", "score=0.31", "(id 4)"
	fieldAssignment = regexp.MustCompile(`(?i)[(\[]?\b(id|score)\b\s*[:=#]?\s*[\w\-]*\d[\w\-]*(\.\d+)?[)\]]?`)
	provenance      = regexp.MustCompile(`(?i)\b(neo4j|postgres(ql)?|pgvector|graph\s+database|vector\s+database|knowledge\s+graph|cypher|sql)\b`)
	spaceRun        = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunc = regexp.MustCompile(`[ \t]+([,.;:!?])`)
	danglingComma   = regexp.MustCompile(`,([.;!?])`)
)

// IsRentalQuery reports whether the utterance asks about renting
func IsRentalQuery(utterance string) bool {
	return rentPattern.MatchString(utterance)
}

// InvalidReply is the deterministic answer for out-of-scope utterances
func InvalidReply(utterance string) string {
	var b strings.Builder
	if IsRentalQuery(utterance) {
		b.WriteString("Sorry, we do not have any properties for rent yet. Every listing here is for sale. ")
	} else {
		b.WriteString("Sorry, I can only help with finding and discussing properties for sale. ")
	}
	b.WriteString("I recommend properties in ")
	b.WriteString(joinOr(normalize.Cities, "and"))
	b.WriteString(" based on balcony, bedrooms, bathrooms, price and area, with property types ")
	b.WriteString(joinOr(normalize.PropertyTypes, "or"))
	b.WriteString(" and room types ")
	b.WriteString(joinOr(normalize.RoomTypes, "or"))
	b.WriteString(". Try something like \"Show me 3 BHK flats in Chennai under 1 crore\".")
	return b.String()
}

// Scrub removes identifier and score assignments and backend provenance from
// user-facing text
func Scrub(text string) string {
	out := fieldAssignment.ReplaceAllString(text, "")
	out = provenance.ReplaceAllString(out, "our listings")
	out = spaceRun.ReplaceAllString(out, " ")
	out = spaceBeforePunc.ReplaceAllString(out, "$1")
	out = danglingComma.ReplaceAllString(out, "$1")

	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func joinOr(values []string, conj string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	default:
		return strings.Join(values[:len(values)-1], ", ") + " " + conj + " " + values[len(values)-1]
	}
}
