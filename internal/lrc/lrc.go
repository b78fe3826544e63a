package lrc

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// tagPattern matches a timestamp tag at the start of a line:
// [MM:SS] or [MM:SS.f], [MM:SS.ff], [MM:SS.fff].
// Minutes may exceed 59 for long tracks.
var tagPattern = regexp.MustCompile(`^\[(\d{1,3}):(\d{2})(?:\.(\d{1,3}))?\]`)

// Line is a single timestamped lyric event.
// RawTag keeps the original bracketed tag verbatim so that formatting a
// parsed document reproduces the input byte-for-byte on the tag side;
// re-parsing RawTag always yields the same Seconds value.
type Line struct {
	Seconds float64 `json:"seconds"`
	Text    string  `json:"text"`
	RawTag  string  `json:"raw_tag"`
}

// Document is an ordered sequence of lyric lines. Parse returns documents
// sorted by timestamp; Format never re-sorts.
type Document struct {
	Lines []Line `json:"lines"`
}

// Parse converts raw LRC text into a Document.
//
// Each input line is matched against the timestamp tag grammar; lines
// without a recognizable tag are dropped silently, which keeps the parser
// tolerant of stray metadata in model-generated text. The result is
// stable-sorted by timestamp so equal timestamps keep their input order.
// Empty input yields an empty document, never an error.
func Parse(raw string) Document {
	var doc Document
	if raw == "" {
		return doc
	}

	for _, rawLine := range strings.Split(raw, "\n") {
		line := strings.TrimSpace(rawLine)
		m := tagPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.Atoi(m[2])
		total := float64(minutes)*60 + float64(seconds)

		if m[3] != "" {
			frac, _ := strconv.Atoi(m[3])
			total += float64(frac) / fracDivisor(len(m[3]))
		}

		doc.Lines = append(doc.Lines, Line{
			Seconds: total,
			Text:    strings.TrimSpace(line[len(m[0]):]),
			RawTag:  m[0],
		})
	}

	sort.SliceStable(doc.Lines, func(i, j int) bool {
		return doc.Lines[i].Seconds < doc.Lines[j].Seconds
	})

	return doc
}

// fracDivisor maps the fractional digit count to its divisor: one digit is
// tenths, two digits are hundredths, three digits are milliseconds. The
// digit count is never normalized away because RawTag must survive intact.
func fracDivisor(digits int) float64 {
	switch digits {
	case 1:
		return 10
	case 2:
		return 100
	default:
		return 1000
	}
}

// Format serializes the document back to raw LRC text. It is a pure
// projection: lines are emitted in their current order (sorting happens
// only in Parse), and the original tag text is reused verbatim, so
// Parse(doc.Format()) is equivalent to doc for any parsed document.
func (d Document) Format() string {
	if len(d.Lines) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, line := range d.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line.RawTag)
		sb.WriteString(line.Text)
	}
	return sb.String()
}

// NonBlankLines counts the input lines that carry any content. Together
// with the line count of Parse it gives the number of lines the parser
// dropped for lacking a timestamp tag.
func NonBlankLines(raw string) int {
	count := 0
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// IsEmpty reports whether the document contains no lines.
func (d Document) IsEmpty() bool {
	return len(d.Lines) == 0
}

// Duration returns the timestamp of the last line in seconds, or 0 for an
// empty document. For parsed documents this is the largest timestamp.
func (d Document) Duration() float64 {
	if len(d.Lines) == 0 {
		return 0
	}
	return d.Lines[len(d.Lines)-1].Seconds
}
