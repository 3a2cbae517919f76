package board

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ElementType 요소 종류
type ElementType string

const (
	ElementText      ElementType = "text"
	ElementRectangle ElementType = "rectangle"
	ElementEllipse   ElementType = "ellipse"
	ElementPath      ElementType = "path"
	ElementImage     ElementType = "image"
)

// Valid reports whether t is a known element type.
func (t ElementType) Valid() bool {
	switch t {
	case ElementText, ElementRectangle, ElementEllipse, ElementPath, ElementImage:
		return true
	}
	return false
}

// ModerationStatus 요소 검수 상태
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "PENDING"
	StatusApproved ModerationStatus = "APPROVED"
	StatusFlagged  ModerationStatus = "FLAGGED"
	StatusRejected ModerationStatus = "REJECTED"
)

func (s ModerationStatus) String() string {
	return string(s)
}

// MaxTextLength caps the text content of a single element, in runes.
const MaxTextLength = 4000

var ErrInvalidElement = errors.New("invalid element")

// Point is a vertex of a freehand path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry 위치/크기 정보
type Geometry struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Points   []Point `json:"points,omitempty"`
}

// Style 스타일 정보
type Style struct {
	StrokeColor string  `json:"strokeColor,omitempty"`
	FillColor   string  `json:"fillColor,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
	FontSize    float64 `json:"fontSize,omitempty"`
	FontFamily  string  `json:"fontFamily,omitempty"`
}

// Element is one vector object on a whiteboard.
type Element struct {
	ID               string           `json:"id"`
	Type             ElementType      `json:"type"`
	Geometry         Geometry         `json:"geometry"`
	Style            Style            `json:"style"`
	Text             string           `json:"text,omitempty"`
	ImageRef         string           `json:"imageRef,omitempty"`
	ModerationStatus ModerationStatus `json:"moderationStatus"`
	CreatedBy        string           `json:"createdBy"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	Version          uint64           `json:"version"`
}

// Clone returns a deep copy, so callers outside the room never share the points slice.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := *e
	if e.Geometry.Points != nil {
		c.Geometry.Points = append([]Point(nil), e.Geometry.Points...)
	}
	return &c
}

// HasContent reports whether the element carries something the classifier must see.
func (e *Element) HasContent() bool {
	return e.Text != "" || e.ImageRef != ""
}

// Validate checks the structural rules shared by create and update.
func (e *Element) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidElement, e.Type)
	}
	if e.Geometry.Width < 0 || e.Geometry.Height < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidElement)
	}
	if utf8.RuneCountInString(e.Text) > MaxTextLength {
		return fmt.Errorf("%w: text exceeds %d characters", ErrInvalidElement, MaxTextLength)
	}
	if e.Type == ElementImage && e.ImageRef == "" {
		return fmt.Errorf("%w: image element requires imageRef", ErrInvalidElement)
	}
	if e.Style.Opacity < 0 || e.Style.Opacity > 1 {
		return fmt.Errorf("%w: opacity out of range", ErrInvalidElement)
	}
	return nil
}
