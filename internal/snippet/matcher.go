package snippet

import "unicode"

// Matcher keeps the tail of a typed character stream.
type Matcher struct {
	buf []rune
	max int
}

// NewMatcher returns a matcher that remembers up to max characters. Values
// below 3 are raised to 3 so both bucket sizes can always be formed.
func NewMatcher(max int) *Matcher {
	if max < 3 {
		max = 3
	}
	return &Matcher{max: max}
}

// SetMax changes the remembered length, trimming the buffer if needed.
func (m *Matcher) SetMax(max int) {
	if max < 3 {
		max = 3
	}
	m.max = max
	if len(m.buf) > max {
		m.buf = append(m.buf[:0], m.buf[len(m.buf)-max:]...)
	}
}

// Feed appends r and returns the current tail. Control characters clear the
// buffer, since cursor movement breaks the typed sequence.
func (m *Matcher) Feed(r rune) string {
	if unicode.IsControl(r) {
		m.Reset()
		return ""
	}
	m.buf = append(m.buf, r)
	if len(m.buf) > m.max {
		m.buf = append(m.buf[:0], m.buf[len(m.buf)-m.max:]...)
	}
	return string(m.buf)
}

// Tail returns the remembered characters.
func (m *Matcher) Tail() string {
	return string(m.buf)
}

// Reset clears the buffer.
func (m *Matcher) Reset() {
	m.buf = m.buf[:0]
}
