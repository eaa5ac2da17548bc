package domain

import "fmt"

type Category string

const (
	CategoryLocation     Category = "location"
	CategoryNeighborhood Category = "neighborhood"
	CategoryExterior     Category = "exterior"
	CategoryInterior     Category = "interior"
	CategoryAmenities    Category = "amenities"
)

// categories is the fixed order; a category's position is its chart axis.
var categories = []Category{
	CategoryLocation,
	CategoryNeighborhood,
	CategoryExterior,
	CategoryInterior,
	CategoryAmenities,
}

// Categories returns the fixed category set in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Index returns the chart axis of c, or -1 when c is not a known category.
func (c Category) Index() int {
	for i, v := range categories {
		if v == c {
			return i
		}
	}
	return -1
}

func (c Category) Valid() bool { return c.Index() >= 0 }

type CriterionType string

const (
	TypeBinary  CriterionType = "binary"
	TypeTernary CriterionType = "ternary"
)

// Accepts reports whether v is inside the value domain of t.
func (t CriterionType) Accepts(v float64) bool {
	switch t {
	case TypeBinary:
		return v == 0 || v == 1
	case TypeTernary:
		return v == -1 || v == 0 || v == 1
	default:
		return false
	}
}

type Criterion struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Category Category      `json:"category"`
	Type     CriterionType `json:"type"`
	Value    float64       `json:"value"`
	IsDream  bool          `json:"is_dream"`
}

// Validate checks the category and the value against the criterion type.
func (c Criterion) Validate() error {
	if !c.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c.Category)
	}
	if !c.Type.Accepts(c.Value) {
		return fmt.Errorf("%w: %v for %s criterion %d", ErrOutOfRange, c.Value, c.Type, c.ID)
	}
	return nil
}

// FirstUserCriterionID starts the id range of criteria a user adds to one
// house. Template criteria use ids below it.
const FirstUserCriterionID int64 = 1_000_000

// Ref addresses a criterion by its list position, the way a table row does.
type Ref struct {
	Category Category `json:"category"`
	Index    int      `json:"index"`
}

func (r Ref) String() string { return fmt.Sprintf("%s[%d]", r.Category, r.Index) }

type HouseSummary struct {
	HID     int64  `json:"hid"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type ScoreReason struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Ratio    float64  `json:"ratio"`
}

type ScoreResult struct {
	Ratios  map[Category]float64 `json:"ratios"`
	Rank    float64              `json:"rank"`
	Reasons []ScoreReason        `json:"reasons"`
}
