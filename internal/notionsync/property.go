package notionsync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type PropertyType string

const (
	PropertyRichText    PropertyType = "rich_text"
	PropertyTitle       PropertyType = "title"
	PropertyURL         PropertyType = "url"
	PropertySelect      PropertyType = "select"
	PropertyMultiSelect PropertyType = "multi_select"
	PropertyDate        PropertyType = "date"
	PropertyNumber      PropertyType = "number"
)

// ParseIDPropertyType validates the type of the property used to store the
// external id. An empty value selects rich_text.
func ParseIDPropertyType(raw string) (PropertyType, error) {
	switch t := PropertyType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return PropertyRichText, nil
	case PropertyRichText, PropertyNumber, PropertySelect, PropertyTitle, PropertyURL:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unsupported id property type %q", ErrInvalidInput, raw)
	}
}

// Property is a single typed page property value. The zero value is not
// useful; build properties with the constructors below, which return nil when
// the source value is empty so the property is left out of the write.
type Property struct {
	typ     PropertyType
	text    string
	options []string
	number  float64
	empty   bool
}

type textContent struct {
	Content string `json:"content"`
}

type textBlock struct {
	Text textContent `json:"text"`
}

type namedOption struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

func RichText(value string) *Property {
	if value == "" {
		return nil
	}
	return &Property{typ: PropertyRichText, text: value}
}

func Title(value string) *Property {
	if value == "" {
		return nil
	}
	return &Property{typ: PropertyTitle, text: value}
}

func URL(value string) *Property {
	if value == "" {
		return nil
	}
	return &Property{typ: PropertyURL, text: value}
}

func Select(value string) *Property {
	if value == "" {
		return nil
	}
	return &Property{typ: PropertySelect, text: value}
}

// MultiSelect keeps order and duplicates; empty strings are dropped.
func MultiSelect(values []string) *Property {
	options := make([]string, 0, len(values))
	for _, value := range values {
		if value != "" {
			options = append(options, value)
		}
	}
	if len(options) == 0 {
		return nil
	}
	return &Property{typ: PropertyMultiSelect, options: options}
}

// Date passes the ISO 8601 string through untouched.
func Date(value string) *Property {
	if value == "" {
		return nil
	}
	return &Property{typ: PropertyDate, text: value}
}

// Number returns nil only when present is false, so a zero value is still
// written.
func Number(value float64, present bool) *Property {
	if !present {
		return nil
	}
	return &Property{typ: PropertyNumber, number: value}
}

// EmptyProperty is the explicit empty wire value for a property type.
func EmptyProperty(t PropertyType) Property {
	return Property{typ: t, empty: true}
}

// IDProperty encodes the external id with the encoder for the declared id
// property type. Unlike the plain constructors it never omits the value: a
// falsy id becomes the empty wire shape of the same type.
func IDProperty(t PropertyType, value string) (Property, error) {
	switch t {
	case PropertyNumber:
		if strings.TrimSpace(value) == "" {
			return EmptyProperty(t), nil
		}
		number, err := parseNumber(value)
		if err != nil {
			return Property{}, err
		}
		return *Number(number, true), nil
	case PropertyTitle, PropertyURL, PropertySelect:
		if value == "" {
			return EmptyProperty(t), nil
		}
		return Property{typ: t, text: value}, nil
	default:
		if value == "" {
			return EmptyProperty(PropertyRichText), nil
		}
		return Property{typ: PropertyRichText, text: value}, nil
	}
}

func (p Property) Type() PropertyType {
	return p.typ
}

func (p Property) IsEmpty() bool {
	return p.empty
}

// Text is the scalar string value of text, title, url, select and date
// properties.
func (p Property) Text() string {
	return p.text
}

func (p Property) Options() []string {
	return append([]string(nil), p.options...)
}

func (p Property) NumberValue() (float64, bool) {
	if p.typ != PropertyNumber || p.empty {
		return 0, false
	}
	return p.number, true
}

func (p Property) MarshalJSON() ([]byte, error) {
	if p.typ == "" {
		return nil, fmt.Errorf("%w: property without type", ErrInvalidInput)
	}
	return json.Marshal(map[string]any{string(p.typ): p.wireValue()})
}

func (p Property) wireValue() any {
	if p.empty {
		switch p.typ {
		case PropertyRichText, PropertyTitle, PropertyMultiSelect:
			return []any{}
		default:
			return nil
		}
	}
	switch p.typ {
	case PropertyRichText, PropertyTitle:
		return []textBlock{{Text: textContent{Content: p.text}}}
	case PropertySelect:
		return namedOption{Name: p.text}
	case PropertyMultiSelect:
		options := make([]namedOption, 0, len(p.options))
		for _, option := range p.options {
			options = append(options, namedOption{Name: option})
		}
		return options
	case PropertyDate:
		return dateValue{Start: p.text}
	case PropertyNumber:
		return p.number
	default:
		return p.text
	}
}

// Filter is an equality filter on a single property, shaped
// {"property": name, "<type>": {"equals": value}}.
type Filter struct {
	Property string
	Type     PropertyType
	Equals   any
}

// EqualsFilter builds the lookup filter for an external id so the comparison
// matches the declared property type: numeric equality for number properties
// and string equality otherwise.
func EqualsFilter(property string, t PropertyType, value string) (Filter, error) {
	switch t {
	case PropertyNumber:
		number, err := parseNumber(value)
		if err != nil {
			return Filter{}, err
		}
		return Filter{Property: property, Type: t, Equals: number}, nil
	case PropertySelect, PropertyTitle, PropertyURL:
		return Filter{Property: property, Type: t, Equals: value}, nil
	default:
		return Filter{Property: property, Type: PropertyRichText, Equals: value}, nil
	}
}

func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"property":    f.Property,
		string(f.Type): map[string]any{"equals": f.Equals},
	})
}

// Matches reports whether a stored property satisfies the filter.
func (f Filter) Matches(p Property) bool {
	if p.empty || p.typ != f.Type {
		return false
	}
	switch want := f.Equals.(type) {
	case float64:
		got, ok := p.NumberValue()
		return ok && got == want
	case string:
		return p.text == want
	default:
		return false
	}
}

func parseNumber(value string) (float64, error) {
	number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q is not numeric", ErrInvalidInput, value)
	}
	return number, nil
}
