package object

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// ErrSignatureInvalid is returned when an "author"/"committer"/"tagger"
// line cannot be parsed.
var ErrSignatureInvalid = errors.New("invalid signature")

// Signature is the "Name <email> seconds tz" line used by commits and
// tags to identify the author/committer/tagger and when the action
// happened.
type Signature struct {
	Name  string
	Email string
	Time  time.Time
}

// NewSignature returns a Signature timestamped to the current instant,
// in the local timezone.
func NewSignature(name, email string) Signature {
	return Signature{Name: name, Email: email, Time: time.Now()}
}

// String renders the signature in commit/tag object form:
// "Name <email> seconds +hhmm".
func (s Signature) String() string {
	_, offset := s.Time.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%s <%s> %d %c%02d%02d",
		s.Name, s.Email, s.Time.Unix(), sign, offset/3600, (offset%3600)/60)
}

// NewSignatureFromBytes parses a "Name <email> seconds tz" line.
//
// A three-letter timezone abbreviation (e.g. "PST") followed by a
// numeric fallback is a historical quirk of early date parsers; this
// implementation rejects non-numeric timezones outright rather than
// carrying that ambiguity forward.
func NewSignatureFromBytes(b []byte) (Signature, error) {
	str := string(b)

	emailStart := strings.IndexByte(str, '<')
	emailEnd := strings.IndexByte(str, '>')
	if emailStart < 0 || emailEnd < 0 || emailEnd < emailStart {
		return Signature{}, xerrors.Errorf("could not find email: %w", ErrSignatureInvalid)
	}

	name := strings.TrimSpace(str[:emailStart])
	email := str[emailStart+1 : emailEnd]

	rest := strings.TrimSpace(str[emailEnd+1:])
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return Signature{}, xerrors.Errorf("could not find date/timezone: %w", ErrSignatureInvalid)
	}

	seconds, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Signature{}, xerrors.Errorf("invalid timestamp %q: %w", parts[0], ErrSignatureInvalid)
	}

	tz := parts[1]
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return Signature{}, xerrors.Errorf("invalid (or non-numeric) timezone %q: %w", tz, ErrSignatureInvalid)
	}
	hours, err1 := strconv.Atoi(tz[1:3])
	minutes, err2 := strconv.Atoi(tz[3:5])
	if err1 != nil || err2 != nil {
		return Signature{}, xerrors.Errorf("invalid timezone %q: %w", tz, ErrSignatureInvalid)
	}
	offset := hours*3600 + minutes*60
	if tz[0] == '-' {
		offset = -offset
	}

	loc := time.FixedZone(tz, offset)
	return Signature{Name: name, Email: email, Time: time.Unix(seconds, 0).In(loc)}, nil
}

// splitHeaderLine splits a "key value" header line on its first space.
func splitHeaderLine(line []byte) (key, value []byte) {
	kv := bytes.SplitN(line, []byte{' '}, 2)
	if len(kv) != 2 {
		return kv[0], nil
	}
	return kv[0], kv[1]
}
