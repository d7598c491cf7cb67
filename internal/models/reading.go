package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

type ReadingType string

const (
	ReadingTypeDaily   ReadingType = "daily"
	ReadingTypeSpecial ReadingType = "special"
)

var ErrIncompleteReading = errors.New("reading is missing required fields")

// ReadingContent is implemented only by DailyReading and SpecialReading.
type ReadingContent interface {
	Type() ReadingType
	Validate() error
	isReadingContent()
}

type Heading struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Symbol struct {
	Name    string `json:"name"`
	Meaning string `json:"meaning"`
}

type DailyReading struct {
	MoonPhaseHeading  Heading  `json:"moonPhaseHeading"`
	LunarAlignment    string   `json:"lunarAlignment"`
	LunarMessage      []string `json:"lunarMessage"`
	LunarWarning      string   `json:"lunarWarning"`
	OpportunityWindow string   `json:"opportunityWindow"`
	LunarSymbol       Symbol   `json:"lunarSymbol"`
	ClosingLine       string   `json:"closingLine"`
}

func (DailyReading) Type() ReadingType { return ReadingTypeDaily }
func (DailyReading) isReadingContent() {}

func (d DailyReading) Validate() error {
	switch {
	case len(d.LunarMessage) == 0:
		return fmt.Errorf("%w: lunarMessage", ErrIncompleteReading)
	case d.LunarWarning == "":
		return fmt.Errorf("%w: lunarWarning", ErrIncompleteReading)
	case d.OpportunityWindow == "":
		return fmt.Errorf("%w: opportunityWindow", ErrIncompleteReading)
	case d.LunarSymbol.Name == "":
		return fmt.Errorf("%w: lunarSymbol", ErrIncompleteReading)
	case d.ClosingLine == "":
		return fmt.Errorf("%w: closingLine", ErrIncompleteReading)
	}
	return nil
}

type SpecialReading struct {
	MoonPhaseHeading Heading  `json:"moonPhaseHeading"`
	LunarAlignment   string   `json:"lunarAlignment"`
	SpecialTheme     string   `json:"specialTheme"`
	DeepDiveMessage  []string `json:"deepDiveMessage"`
	RitualSuggestion Section  `json:"ritualSuggestion"`
	OracleInsight    Section  `json:"oracleInsight"`
	ClosingLine      string   `json:"closingLine"`
}

func (SpecialReading) Type() ReadingType { return ReadingTypeSpecial }
func (SpecialReading) isReadingContent() {}

func (s SpecialReading) Validate() error {
	switch {
	case s.SpecialTheme == "":
		return fmt.Errorf("%w: specialTheme", ErrIncompleteReading)
	case len(s.DeepDiveMessage) == 0:
		return fmt.Errorf("%w: deepDiveMessage", ErrIncompleteReading)
	case s.RitualSuggestion.Title == "":
		return fmt.Errorf("%w: ritualSuggestion", ErrIncompleteReading)
	case s.OracleInsight.Title == "":
		return fmt.Errorf("%w: oracleInsight", ErrIncompleteReading)
	case s.ClosingLine == "":
		return fmt.Errorf("%w: closingLine", ErrIncompleteReading)
	}
	return nil
}

type SponsoredProduct struct {
	DisplayName        string `json:"displayName"`
	DisplayDescription string `json:"displayDescription"`
	URL                string `json:"url"`
}

const MaxSponsoredProducts = 3

// Reading wraps the generated content. The variant never changes once a record exists.
type Reading struct {
	Content           ReadingContent
	SponsoredProducts []SponsoredProduct
}

func (r Reading) Type() ReadingType {
	if r.Content == nil {
		return ""
	}
	return r.Content.Type()
}

func (r Reading) Validate() error {
	if r.Content == nil {
		return fmt.Errorf("%w: content", ErrIncompleteReading)
	}
	if len(r.SponsoredProducts) > MaxSponsoredProducts {
		return fmt.Errorf("too many sponsored products: %d", len(r.SponsoredProducts))
	}
	return r.Content.Validate()
}

// MatchReading dispatches on the reading variant. Both branches are mandatory.
func MatchReading[T any](r Reading, daily func(DailyReading) T, special func(SpecialReading) T) T {
	switch c := r.Content.(type) {
	case DailyReading:
		return daily(c)
	case SpecialReading:
		return special(c)
	default:
		panic(fmt.Sprintf("unknown reading content %T", r.Content))
	}
}

func (r Reading) MarshalJSON() ([]byte, error) {
	switch c := r.Content.(type) {
	case DailyReading:
		return json.Marshal(struct {
			ReadingType ReadingType `json:"readingType"`
			DailyReading
			SponsoredProducts []SponsoredProduct `json:"sponsoredProducts,omitempty"`
		}{ReadingTypeDaily, c, r.SponsoredProducts})
	case SpecialReading:
		return json.Marshal(struct {
			ReadingType ReadingType `json:"readingType"`
			SpecialReading
			SponsoredProducts []SponsoredProduct `json:"sponsoredProducts,omitempty"`
		}{ReadingTypeSpecial, c, r.SponsoredProducts})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown reading content %T", r.Content)
	}
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("reading: invalid json")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return fmt.Errorf("reading: expected object")
	}

	kind := ReadingType(parsed.Get("readingType").String())
	if kind == "" {
		// records written before the discriminator existed
		kind = ReadingTypeDaily
		if parsed.Get("deepDiveMessage").Exists() {
			kind = ReadingTypeSpecial
		}
	}

	var extras struct {
		SponsoredProducts []SponsoredProduct `json:"sponsoredProducts"`
	}
	if err := json.Unmarshal(data, &extras); err != nil {
		return fmt.Errorf("decode sponsored products: %w", err)
	}

	switch kind {
	case ReadingTypeDaily:
		var daily DailyReading
		if err := json.Unmarshal(data, &daily); err != nil {
			return fmt.Errorf("decode daily reading: %w", err)
		}
		r.Content = daily
	case ReadingTypeSpecial:
		var special SpecialReading
		if err := json.Unmarshal(data, &special); err != nil {
			return fmt.Errorf("decode special reading: %w", err)
		}
		r.Content = special
	default:
		return fmt.Errorf("unknown readingType %q", kind)
	}
	r.SponsoredProducts = extras.SponsoredProducts
	return nil
}
