package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DatePattern is a compiled date pattern in DateTimeFormatter letter syntax,
// e.g. "yyyy.MM.dd" or "yyyy-MM-dd'T'HH". Week fields follow ISO-8601.
type DatePattern struct {
	segs []dateSeg
}

type dateSeg struct {
	letter rune
	count  int
	lit    string
}

var maxLetterCount = map[rune]int{
	'y': 9, 'u': 9, 'Y': 9,
	'M': 4, 'd': 2, 'D': 3,
	'H': 2, 'h': 2, 'k': 2, 'K': 2,
	'm': 2, 's': 2, 'S': 9,
	'E': 4, 'a': 1, 'w': 2,
}

// CompileDatePattern parses pattern. Letters outside the supported set are
// rejected so that a typo fails at startup instead of producing odd names.
func CompileDatePattern(pattern string) (*DatePattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty date pattern")
	}
	runes := []rune(pattern)
	var segs []dateSeg
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			segs = append(segs, dateSeg{lit: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\'':
			if i+1 < len(runes) && runes[i+1] == '\'' {
				lit.WriteRune('\'')
				i += 2
				continue
			}
			end := i + 1
			for {
				if end >= len(runes) {
					return nil, fmt.Errorf("unterminated quote in %q", pattern)
				}
				if runes[end] == '\'' {
					if end+1 < len(runes) && runes[end+1] == '\'' {
						lit.WriteRune('\'')
						end += 2
						continue
					}
					break
				}
				lit.WriteRune(runes[end])
				end++
			}
			i = end + 1
		case unicode.IsLetter(r) && r < unicode.MaxASCII:
			limit, ok := maxLetterCount[r]
			if !ok {
				return nil, fmt.Errorf("unsupported pattern letter %q in %q", r, pattern)
			}
			count := 1
			for i+count < len(runes) && runes[i+count] == r {
				count++
			}
			if count > limit {
				return nil, fmt.Errorf("too many pattern letters %q in %q", string(runes[i:i+count]), pattern)
			}
			flushLit()
			segs = append(segs, dateSeg{letter: r, count: count})
			i += count
		case strings.ContainsRune("[]{}#", r):
			return nil, fmt.Errorf("reserved pattern character %q in %q", r, pattern)
		default:
			lit.WriteRune(r)
			i++
		}
	}
	flushLit()
	return &DatePattern{segs: segs}, nil
}

// Format renders t, which must already be in the desired zone.
func (p *DatePattern) Format(t time.Time) string {
	var b strings.Builder
	for _, seg := range p.segs {
		if seg.letter == 0 {
			b.WriteString(seg.lit)
			continue
		}
		b.WriteString(formatField(t, seg.letter, seg.count))
	}
	return b.String()
}

func formatField(t time.Time, letter rune, count int) string {
	switch letter {
	case 'y', 'u':
		return formatYear(t.Year(), count)
	case 'Y':
		year, _ := t.ISOWeek()
		return formatYear(year, count)
	case 'M':
		switch count {
		case 3:
			return t.Month().String()[:3]
		case 4:
			return t.Month().String()
		default:
			return pad(int(t.Month()), count)
		}
	case 'd':
		return pad(t.Day(), count)
	case 'D':
		return pad(t.YearDay(), count)
	case 'H':
		return pad(t.Hour(), count)
	case 'h':
		h := t.Hour() % 12
		if h == 0 {
			h = 12
		}
		return pad(h, count)
	case 'k':
		h := t.Hour()
		if h == 0 {
			h = 24
		}
		return pad(h, count)
	case 'K':
		return pad(t.Hour()%12, count)
	case 'm':
		return pad(t.Minute(), count)
	case 's':
		return pad(t.Second(), count)
	case 'S':
		return fmt.Sprintf("%09d", t.Nanosecond())[:count]
	case 'E':
		if count == 4 {
			return t.Weekday().String()
		}
		return t.Weekday().String()[:3]
	case 'a':
		if t.Hour() < 12 {
			return "AM"
		}
		return "PM"
	case 'w':
		_, week := t.ISOWeek()
		return pad(week, count)
	}
	return ""
}

// formatYear follows the reduced two-digit form for a count of two and a
// minimum width otherwise.
func formatYear(year, count int) string {
	if count == 2 {
		return pad(((year%100)+100)%100, 2)
	}
	return pad(year, count)
}

func pad(n, width int) string {
	s := strconv.Itoa(n)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
