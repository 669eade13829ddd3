package classifier

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
)

const (
	keyClassification = "classification"
	keyExtractedInfo  = "extracted_info"
	keyStatus         = "status"
)

var errNoJSONObject = errors.New("no JSON object in oracle response")

// rawFields mirrors every key the oracle has been seen to emit. Legacy keys
// (date, interview_round) are folded into their current names by toFields.
type rawFields struct {
	CompanyName    string `mapstructure:"company_name"`
	Role           string `mapstructure:"role"`
	EventDate      string `mapstructure:"event_date"`
	Date           string `mapstructure:"date"`
	Location       string `mapstructure:"location"`
	JobID          string `mapstructure:"job_id"`
	InterviewType  string `mapstructure:"interview_type"`
	Round          string `mapstructure:"round"`
	InterviewRound string `mapstructure:"interview_round"`
	Status         string `mapstructure:"status"`
}

// payload is the parsed oracle answer before stage rules are applied.
type payload struct {
	label  string
	fields rawFields
}

func parsePayload(raw string) (*payload, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}

	label := labelOf(doc)

	var source map[string]any
	if nested, ok := doc[keyExtractedInfo].(map[string]any); ok {
		source = nested
	} else {
		source = make(map[string]any, len(doc))
		for k, v := range doc {
			if k == keyClassification || k == keyExtractedInfo {
				continue
			}
			source[k] = v
		}
	}

	fields, err := decodeFields(source)
	if err != nil {
		// Nothing but the label matters for non-job answers.
		if !ParseStage(label).IsJobStage() {
			return &payload{label: label}, nil
		}
		return nil, err
	}

	return &payload{label: label, fields: fields}, nil
}

// labelOf returns the classification key, falling back to the legacy shape
// in which status doubles as the classification.
func labelOf(doc map[string]any) string {
	if v, ok := doc[keyClassification].(string); ok {
		return v
	}
	if _, nested := doc[keyExtractedInfo]; !nested {
		if v, ok := doc[keyStatus].(string); ok {
			return v
		}
	}
	return ""
}

func decodeFields(source map[string]any) (rawFields, error) {
	var fields rawFields

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &fields,
		WeaklyTypedInput: true,
		DecodeHook:       lenientString,
	})
	if err != nil {
		return fields, fmt.Errorf("build field decoder: %w", err)
	}

	if err := decoder.Decode(source); err != nil {
		return fields, fmt.Errorf("decode extracted fields: %w", err)
	}

	return fields, nil
}

// lenientString flattens lists of scalars into a comma separated string and
// drops objects, so one odd field never rejects the whole answer.
func lenientString(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}

	switch v := data.(type) {
	case map[string]any:
		return "", nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			switch item.(type) {
			case string, float64, bool, json.Number:
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, ", "), nil
	}
	return data, nil
}

func extractJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end < start {
		return "", errNoJSONObject
	}

	return raw[start : end+1], nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
}

// parseDate accepts the date spellings the oracle produces. The bool is false
// for empty or unrecognised input.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}

	return time.Time{}, false
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func (r rawFields) toFields(stage Stage, sentAt time.Time) *Fields {
	date := r.EventDate
	if clean(date) == "" {
		date = r.Date
	}
	eventDate, ok := parseDate(date)
	if !ok {
		eventDate = dateOnly(sentAt)
	}

	round := clean(r.Round)
	if round == "" {
		round = clean(r.InterviewRound)
	}

	fields := &Fields{
		CompanyName: clean(r.CompanyName),
		Role:        clean(r.Role),
		EventDate:   eventDate,
		Location:    clean(r.Location),
		JobID:       clean(r.JobID),
		Status:      string(stage),
	}

	if stage == StageInterview {
		fields.InterviewType = clean(r.InterviewType)
		fields.Round = round
	}

	return fields
}
