package board

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Patch is the typed form of an Update(fields) intent. Nil fields are left untouched.
type Patch struct {
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Width    *float64 `json:"width"`
	Height   *float64 `json:"height"`
	Rotation *float64 `json:"rotation"`
	Points   *[]Point `json:"points"`

	StrokeColor *string  `json:"strokeColor"`
	FillColor   *string  `json:"fillColor"`
	StrokeWidth *float64 `json:"strokeWidth"`
	Opacity     *float64 `json:"opacity"`
	FontSize    *float64 `json:"fontSize"`
	FontFamily  *string  `json:"fontFamily"`

	Text     *string `json:"text"`
	ImageRef *string `json:"imageRef"`
}

// DecodePatch converts a loosely typed field map (as received over the wire) into a Patch.
// Unknown keys are rejected so a typo never silently becomes a no-op.
func DecodePatch(fields map[string]any) (Patch, error) {
	var p Patch
	if len(fields) == 0 {
		return p, fmt.Errorf("%w: empty update", ErrInvalidElement)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(fields); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return p, nil
}

// TouchesContent reports whether the patch edits classifier-visible content.
func (p Patch) TouchesContent() bool {
	return p.Text != nil || p.ImageRef != nil
}

// ApplyTo writes the patch onto e and reports whether content actually changed.
func (p Patch) ApplyTo(e *Element) (contentChanged bool) {
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setS := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}

	setF(&e.Geometry.X, p.X)
	setF(&e.Geometry.Y, p.Y)
	setF(&e.Geometry.Width, p.Width)
	setF(&e.Geometry.Height, p.Height)
	setF(&e.Geometry.Rotation, p.Rotation)
	if p.Points != nil {
		e.Geometry.Points = append([]Point(nil), (*p.Points)...)
	}

	setS(&e.Style.StrokeColor, p.StrokeColor)
	setS(&e.Style.FillColor, p.FillColor)
	setF(&e.Style.StrokeWidth, p.StrokeWidth)
	setF(&e.Style.Opacity, p.Opacity)
	setF(&e.Style.FontSize, p.FontSize)
	setS(&e.Style.FontFamily, p.FontFamily)

	if p.Text != nil && *p.Text != e.Text {
		e.Text = *p.Text
		contentChanged = true
	}
	if p.ImageRef != nil && *p.ImageRef != e.ImageRef {
		e.ImageRef = *p.ImageRef
		contentChanged = true
	}
	return contentChanged
}
