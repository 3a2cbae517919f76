package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tinylib/msgp/msgp"
)

// Format 내보내기 포맷
type Format string

const (
	FormatJSON    Format = "json"
	FormatNDJSON  Format = "ndjson"
	FormatCBOR    Format = "cbor"
	FormatMsgpack Format = "msgpack"
)

// Compression 내보내기 압축 방식
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseFormat validates a format name. An empty name means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatNDJSON, FormatCBOR, FormatMsgpack:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ParseCompression validates a compression name. An empty name means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return c, nil
	}
	return "", fmt.Errorf("%w: compression %q", ErrUnsupportedFormat, s)
}

// ContentType returns the MIME type of an export artifact.
func ContentType(f Format, c Compression) string {
	switch c {
	case CompressionZstd:
		return "application/zstd"
	case CompressionLZ4:
		return "application/x-lz4"
	}
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatCBOR:
		return "application/cbor"
	case FormatMsgpack:
		return "application/msgpack"
	}
	return "application/json"
}

// Extension returns the file extension of an export artifact.
func Extension(f Format, c Compression) string {
	ext := "." + string(f)
	switch c {
	case CompressionZstd:
		ext += ".zst"
	case CompressionLZ4:
		ext += ".lz4"
	}
	return ext
}

// ExportSession is the session header written into an export. Only fields that are
// fixed once the session stopped are included.
type ExportSession struct {
	ID            string     `json:"id"`
	WhiteboardID  string     `json:"whiteboardId"`
	Title         string     `json:"title"`
	StartedBy     string     `json:"startedBy"`
	Status        Status     `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	LastSeq       uint64     `json:"lastSeq"`
	MissingRanges []Range    `json:"missingRanges,omitempty"`
}

// Document is the complete export of a recording.
type Document struct {
	Session     ExportSession `json:"session"`
	Frames      []Frame       `json:"frames"`
	Annotations []Annotation  `json:"annotations"`
}

// NewDocument assembles a canonical document: frames by seq, annotations by time then id,
// all timestamps in UTC at microsecond precision (what Postgres keeps).
func NewDocument(s *Session, frames []Frame, annotations []Annotation) *Document {
	doc := &Document{
		Session: ExportSession{
			ID:            s.ID,
			WhiteboardID:  s.WhiteboardID,
			Title:         s.Title,
			StartedBy:     s.StartedBy,
			Status:        s.Status,
			StartedAt:     canonicalTime(s.StartedAt),
			LastSeq:       s.LastSeq,
			MissingRanges: append([]Range(nil), s.MissingRanges...),
		},
		Frames:      make([]Frame, len(frames)),
		Annotations: make([]Annotation, len(annotations)),
	}
	if s.EndedAt != nil {
		t := canonicalTime(*s.EndedAt)
		doc.Session.EndedAt = &t
	}

	copy(doc.Frames, frames)
	sort.SliceStable(doc.Frames, func(i, j int) bool { return doc.Frames[i].Seq < doc.Frames[j].Seq })
	for i := range doc.Frames {
		doc.Frames[i].Timestamp = canonicalTime(doc.Frames[i].Timestamp)
	}

	copy(doc.Annotations, annotations)
	sort.SliceStable(doc.Annotations, func(i, j int) bool {
		a, b := doc.Annotations[i], doc.Annotations[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for i := range doc.Annotations {
		doc.Annotations[i].CreatedAt = canonicalTime(doc.Annotations[i].CreatedAt)
	}
	return doc
}

func canonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Encode serializes a document. The output depends only on the document content.
func Encode(doc *Document, f Format, c Compression) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch f {
	case FormatJSON:
		raw, err = json.Marshal(doc)
	case FormatNDJSON:
		raw, err = encodeNDJSON(doc)
	case FormatCBOR:
		raw, err = encodeCBOR(doc)
	case FormatMsgpack:
		raw, err = encodeMsgpack(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f, err)
	}
	return compress(raw, c)
}

func encodeNDJSON(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	type line struct {
		Type       string         `json:"type"`
		Session    *ExportSession `json:"session,omitempty"`
		Frame      *Frame         `json:"frame,omitempty"`
		Annotation *Annotation    `json:"annotation,omitempty"`
	}

	if err := enc.Encode(line{Type: "session", Session: &doc.Session}); err != nil {
		return nil, err
	}
	for i := range doc.Frames {
		if err := enc.Encode(line{Type: "frame", Frame: &doc.Frames[i]}); err != nil {
			return nil, err
		}
	}
	for i := range doc.Annotations {
		if err := enc.Encode(line{Type: "annotation", Annotation: &doc.Annotations[i]}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeCBOR(doc *Document) ([]byte, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(doc)
}

// encodeMsgpack writes the document as a msgpack map. Frame payloads (mutation or
// element set) are embedded as canonical JSON bytes.
func encodeMsgpack(doc *Document) ([]byte, error) {
	b := msgp.AppendMapHeader(nil, 3)

	s := doc.Session
	b = msgp.AppendString(b, "session")
	b = msgp.AppendMapHeader(b, 9)
	b = msgp.AppendString(b, "id")
	b = msgp.AppendString(b, s.ID)
	b = msgp.AppendString(b, "whiteboardId")
	b = msgp.AppendString(b, s.WhiteboardID)
	b = msgp.AppendString(b, "title")
	b = msgp.AppendString(b, s.Title)
	b = msgp.AppendString(b, "startedBy")
	b = msgp.AppendString(b, s.StartedBy)
	b = msgp.AppendString(b, "status")
	b = msgp.AppendString(b, string(s.Status))
	b = msgp.AppendString(b, "startedAt")
	b = msgp.AppendTime(b, s.StartedAt)
	b = msgp.AppendString(b, "endedAt")
	if s.EndedAt != nil {
		b = msgp.AppendTime(b, *s.EndedAt)
	} else {
		b = msgp.AppendNil(b)
	}
	b = msgp.AppendString(b, "lastSeq")
	b = msgp.AppendUint64(b, s.LastSeq)
	b = msgp.AppendString(b, "missingRanges")
	b = msgp.AppendArrayHeader(b, uint32(len(s.MissingRanges)))
	for _, r := range s.MissingRanges {
		b = appendRange(b, r)
	}

	b = msgp.AppendString(b, "frames")
	b = msgp.AppendArrayHeader(b, uint32(len(doc.Frames)))
	for i := range doc.Frames {
		f := &doc.Frames[i]
		var payload any
		if f.Kind == FrameSnapshot {
			payload = f.Elements
		} else {
			payload = f.Mutation
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}

		b = msgp.AppendMapHeader(b, 6)
		b = msgp.AppendString(b, "seq")
		b = msgp.AppendUint64(b, f.Seq)
		b = msgp.AppendString(b, "kind")
		b = msgp.AppendString(b, string(f.Kind))
		b = msgp.AppendString(b, "timestamp")
		b = msgp.AppendTime(b, f.Timestamp)
		b = msgp.AppendString(b, "loss")
		b = msgp.AppendBool(b, f.Loss)
		b = msgp.AppendString(b, "lost")
		if f.Lost != nil {
			b = appendRange(b, *f.Lost)
		} else {
			b = msgp.AppendNil(b)
		}
		b = msgp.AppendString(b, "payload")
		b = msgp.AppendBytes(b, raw)
	}

	b = msgp.AppendString(b, "annotations")
	b = msgp.AppendArrayHeader(b, uint32(len(doc.Annotations)))
	for _, a := range doc.Annotations {
		b = msgp.AppendMapHeader(b, 5)
		b = msgp.AppendString(b, "id")
		b = msgp.AppendString(b, a.ID)
		b = msgp.AppendString(b, "authorId")
		b = msgp.AppendString(b, a.AuthorID)
		b = msgp.AppendString(b, "text")
		b = msgp.AppendString(b, a.Text)
		b = msgp.AppendString(b, "atSeq")
		b = msgp.AppendUint64(b, a.AtSeq)
		b = msgp.AppendString(b, "createdAt")
		b = msgp.AppendTime(b, a.CreatedAt)
	}
	return b, nil
}

func appendRange(b []byte, r Range) []byte {
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, "from")
	b = msgp.AppendUint64(b, r.From)
	b = msgp.AppendString(b, "to")
	b = msgp.AppendUint64(b, r.To)
	return b
}

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case "", CompressionNone:
		return raw, nil
	case CompressionZstd:
		// single-threaded encoder so block boundaries never depend on scheduling
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.ConcurrencyOption(1)); err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedFormat, c)
}
