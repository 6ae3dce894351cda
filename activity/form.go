package activity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fittrack/apperr"
	"fittrack/store"
	"fittrack/upload"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	Course   Type = "Course"
	Marche   Type = "Marche"
	Velo     Type = "Vélo"
	Natation Type = "Natation"
	Gym      Type = "Gym"

	dateLayout = "2006-01-02"
)

var Types = []Type{Course, Marche, Velo, Natation, Gym}

// ParseType treats an empty value as Course.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Course, nil
	}
	if t := Type(s); slices.Contains(Types, t) {
		return t, nil
	}
	return "", apperr.Invalid("type", fmt.Sprintf("Unknown activity type %q", s))
}

// Number is a JSON number that may also arrive as a numeric string.
type Number string

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*n = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(s)
	default:
		var f json.Number
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("expected a number: %w", err)
		}
		*n = Number(f)
	}
	return nil
}

// Draft is a validated activity that has not been stored yet.
type Draft struct {
	Type            Type
	Date            string
	DurationMinutes float64
	DistanceKm      float64
	Photo           *upload.File
	PhotoKey        string
}

// Form holds raw field values the way a browser posts them.
type Form struct {
	Type     string
	Date     string
	Duration string
	Distance string
	Photo    *upload.File
	PhotoKey string

	svc *Service
}

func (s *Service) NewForm() *Form {
	f := &Form{svc: s}
	f.Reset()
	return f
}

func (f *Form) Reset() {
	f.Type = string(Course)
	f.Date = ""
	f.Duration = ""
	f.Distance = ""
	f.Photo = nil
	f.PhotoKey = ""
}

func (f *Form) Validate() (*Draft, error) {
	date := strings.TrimSpace(f.Date)
	duration := strings.TrimSpace(f.Duration)
	if date == "" {
		return nil, apperr.Invalid("date", "Date and duration are required")
	}
	if duration == "" {
		return nil, apperr.Invalid("duration", "Date and duration are required")
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, apperr.Invalid("date", "Date must be formatted as YYYY-MM-DD")
	}

	typ, err := ParseType(f.Type)
	if err != nil {
		return nil, err
	}
	minutes, err := parseAmount("duration", "Duration", duration)
	if err != nil {
		return nil, err
	}
	km := 0.0
	if distance := strings.TrimSpace(f.Distance); distance != "" {
		if km, err = parseAmount("distance", "Distance", distance); err != nil {
			return nil, err
		}
	}
	if f.Photo != nil && f.PhotoKey != "" {
		return nil, apperr.Invalid("photo", "Provide either a photo or a photo key, not both")
	}

	return &Draft{
		Type:            typ,
		Date:            date,
		DurationMinutes: minutes,
		DistanceKm:      km,
		Photo:           f.Photo,
		PhotoKey:        f.PhotoKey,
	}, nil
}

func parseAmount(field, label, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperr.Invalid(field, label+" must be a number")
	}
	if v < 0 {
		return 0, apperr.Invalid(field, label+" cannot be negative")
	}
	return v, nil
}

// Attach keeps photo on the form when it is an image. Nothing is stored yet.
func (f *Form) Attach(photo *upload.File) error {
	if err := f.svc.uploads.Check(photo); err != nil {
		return err
	}
	f.Photo = photo
	return nil
}

// AttachDataURI decodes a data:<mime>;base64,... photo and attaches it.
func (f *Form) AttachDataURI(uri string) error {
	photo, err := decodeDataURI(uri)
	if err != nil {
		return err
	}
	return f.Attach(photo)
}

// Submit stores the activity for ownerID and resets the form. The form keeps
// its values when anything fails.
func (f *Form) Submit(ctx context.Context, ownerID string) (*store.Activity, error) {
	draft, err := f.Validate()
	if err != nil {
		return nil, err
	}
	activity, err := f.svc.Create(ctx, ownerID, draft)
	if err != nil {
		return nil, err
	}
	f.Reset()
	return activity, nil
}

func decodeDataURI(uri string) (*upload.File, error) {
	invalid := apperr.Invalid("photo", "Please select an image file")
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, invalid
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, invalid
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, invalid
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, invalid
	}
	return &upload.File{ContentType: contentType, Data: data}, nil
}
