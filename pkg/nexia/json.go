package nexia

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// rawDocument is the loosely typed form every entity keeps its vendor JSON
// in.  Only the handful of stable fields (ids, names, settings, features,
// action links) are decoded on demand; everything else rides along opaquely
// so that hardware generations we have never seen survive a round trip.
type rawDocument map[string]json.RawMessage

// mergeFrom applies a partial snapshot on top of the document, key by key.
// This is the single mutation path shared by refresh and command responses.
func (d rawDocument) mergeFrom(update rawDocument) {
	for k, v := range update {
		d[k] = v
	}
}

func (d rawDocument) has(key string) bool {
	_, ok := d[key]
	return ok
}

// decodeKey unmarshals the named field into v.  A missing key is an error;
// use has() first when the field is optional.
func (d rawDocument) decodeKey(key string, v interface{}) error {
	raw, ok := d[key]
	if !ok {
		return errors.Errorf("key %q not in the JSON document", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "decoding key %q", key)
	}
	return nil
}

func (d rawDocument) stringKey(key string) (string, bool) {
	raw, ok := d[key]
	if !ok {
		return "", false
	}
	var s Scalar
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if s.IsNull() {
		return "", false
	}
	return s.String(), true
}

// recordID pulls the "id" field out of a record, tolerating both numeric and
// string identifiers.
func (d rawDocument) recordID() (DeviceID, bool) {
	raw, ok := d["id"]
	if !ok {
		return "", false
	}
	var id DeviceID
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", false
	}
	return id, true
}

// DeviceID is a vendor identifier.  Depending on the hardware generation the
// API serialises these as JSON numbers (XL824/XL1050) or strings (UX360), so
// both forms normalise to the same string representation.
type DeviceID string

func (id *DeviceID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = DeviceID(s)
		return nil
	}
	*id = DeviceID(b)
	return nil
}

func (id DeviceID) String() string {
	return string(id)
}

// Scalar holds a JSON value that different firmware families encode
// variously as a string, number or bool (current values, option values).
// The raw form is preserved so the value can be posted back unchanged.
type Scalar struct {
	raw json.RawMessage
}

func (s *Scalar) UnmarshalJSON(b []byte) error {
	s.raw = append(s.raw[:0], b...)
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.IsNull() {
		return []byte("null"), nil
	}
	return s.raw, nil
}

func (s Scalar) IsNull() bool {
	return len(s.raw) == 0 || bytes.Equal(s.raw, []byte("null"))
}

// String renders the value without JSON quoting: "auto", "1", "true".
func (s Scalar) String() string {
	if s.IsNull() {
		return ""
	}
	if s.raw[0] == '"' {
		var str string
		if json.Unmarshal(s.raw, &str) == nil {
			return str
		}
	}
	return string(s.raw)
}

func (s Scalar) Float() (float64, bool) {
	str := s.String()
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (s Scalar) Int() (int, bool) {
	f, ok := s.Float()
	if !ok {
		return 0, false
	}
	return int(f), true
}

func (s Scalar) Bool() bool {
	switch s.String() {
	case "true", "1":
		return true
	}
	return false
}

// Equal compares two scalars by their rendered form, so the numeric 1 and
// the string "1" compare equal the way the mobile apps treat them.
func (s Scalar) Equal(other Scalar) bool {
	return s.String() == other.String()
}

func newScalar(v interface{}) Scalar {
	raw, _ := json.Marshal(v)
	return Scalar{raw: raw}
}

// Action is an embedded hypermedia link supplied by newer firmware.  Method
// is optional; POST is implied when absent.
type Action struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

// Setting is one entry of an entity's "settings" array, keyed by Type.
type Setting struct {
	Type         string            `json:"type"`
	CurrentValue Scalar            `json:"current_value"`
	Options      []Option          `json:"options"`
	Labels       []string          `json:"labels"`
	Values       []float64         `json:"values"`
	Actions      map[string]Action `json:"actions"`
}

// Option is a selectable value with its user-facing label.
type Option struct {
	Label string `json:"label"`
	Value Scalar `json:"value"`
}

// Feature is one entry of an entity's "features" array, keyed by Name.  The
// per-feature payload varies wildly across hardware, so everything beyond
// the name and action links stays raw and is decoded by the accessor that
// knows the shape it wants.
type Feature struct {
	Name    string            `json:"name"`
	Actions map[string]Action `json:"actions"`

	raw json.RawMessage
}

func (f *Feature) UnmarshalJSON(b []byte) error {
	type alias Feature
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*f = Feature(a)
	f.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Decode unmarshals the feature's full payload into v.
func (f *Feature) Decode(v interface{}) error {
	return errors.Wrapf(json.Unmarshal(f.raw, v), "decoding feature %q", f.Name)
}

func decodeSettings(d rawDocument) ([]Setting, error) {
	if !d.has("settings") {
		return nil, nil
	}
	var settings []Setting
	if err := d.decodeKey("settings", &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func decodeFeatures(d rawDocument) ([]Feature, error) {
	if !d.has("features") {
		return nil, nil
	}
	var features []Feature
	if err := d.decodeKey("features", &features); err != nil {
		return nil, err
	}
	return features, nil
}

func findSetting(settings []Setting, typ string) (*Setting, bool) {
	for i := range settings {
		if settings[i].Type == typ {
			return &settings[i], true
		}
	}
	return nil, false
}

func findFeature(features []Feature, name string) (*Feature, bool) {
	for i := range features {
		if features[i].Name == name {
			return &features[i], true
		}
	}
	return nil, false
}

// optionLabelForValue maps a stored value back to its label.
func optionLabelForValue(options []Option, value Scalar) (string, bool) {
	for _, opt := range options {
		if opt.Value.Equal(value) {
			return opt.Label, true
		}
	}
	return "", false
}

// optionValueForLabel maps a user-facing label to the value the API expects.
func optionValueForLabel(options []Option, label string) (Scalar, bool) {
	for _, opt := range options {
		if opt.Label == label {
			return opt.Value, true
		}
	}
	return Scalar{}, false
}
