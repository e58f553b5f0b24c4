package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Fixed field widths for the annex compact protocol, per spec.md §4.1/§6.
const (
	annexUnitWidth  = 3
	annexCidWidth   = 3
	annexSlitWidth  = 2
	annexFocusDigits = 5 // digits after an optional sign
	annexFwhmWidth  = 4
)

// DecodeAnnex parses one "g#...%" compact annex message. Unknown or
// malformed payloads return *Error; the caller must close the session
// (spec.md §4.1: "the session is closed").
func DecodeAnnex(line string) (Record, error) {
	if !strings.HasPrefix(line, "g#") || !strings.HasSuffix(line, "%") {
		return nil, &Error{Reason: "annex: missing g#/% delimiters"}
	}
	body := line[2 : len(line)-1]

	switch {
	case strings.HasPrefix(body, "rain"):
		rest := body[len("rain"):]
		n, err := strconv.Atoi(rest)
		if err != nil {
			return nil, &Error{Reason: "annex: bad rain value"}
		}
		return &Rain{Base: Base{Address{}, KindRain}, Value: n}, nil

	case strings.Contains(body, "slit"):
		pos := strings.Index(body, "slit")
		gid, uid, err := splitGidUid(body, pos)
		if err != nil {
			return nil, err
		}
		rest := body[pos+len("slit"):]
		if len(rest) != annexSlitWidth {
			return nil, &Error{Reason: "annex: bad slit field width"}
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			return nil, &Error{Reason: "annex: bad slit value"}
		}
		return &Slit{Base: Base{Address{GID: gid, UID: uid}, KindSlit}, State: n, Command: n}, nil

	case strings.Contains(body, "focus"):
		pos := strings.Index(body, "focus")
		gid, uid, err := splitGidUid(body, pos)
		if err != nil {
			return nil, err
		}
		after := body[pos+len("focus"):]
		if len(after) < annexCidWidth {
			return nil, &Error{Reason: "annex: focus missing cid"}
		}
		cid := after[:annexCidWidth]
		valStr := after[annexCidWidth:]
		pos2, err := parseSignedFixed(valStr, annexFocusDigits)
		if err != nil {
			return nil, &Error{Reason: "annex: " + err.Error()}
		}
		return &FocusStatus{Base: Base{Address{GID: gid, UID: uid, CID: cid}, KindFocusStatus}, Position: pos2}, nil

	case strings.Contains(body, "fwhm"):
		pos := strings.Index(body, "fwhm")
		gid, uid, err := splitGidUid(body, pos)
		if err != nil {
			return nil, err
		}
		after := body[pos+len("fwhm"):]
		if len(after) < annexCidWidth {
			return nil, &Error{Reason: "annex: fwhm missing cid"}
		}
		cid := after[:annexCidWidth]
		valStr := after[annexCidWidth:]
		if len(valStr) != annexFwhmWidth {
			return nil, &Error{Reason: "annex: bad fwhm field width"}
		}
		n, err := strconv.Atoi(valStr)
		if err != nil {
			return nil, &Error{Reason: "annex: bad fwhm value"}
		}
		return &Fwhm{Base: Base{Address{GID: gid, UID: uid, CID: cid}, KindFwhm}, Value: float64(n) / 100.0}, nil

	default:
		return nil, &Error{Reason: "annex: unknown payload"}
	}
}

// splitGidUid recovers the variable-length gid and fixed-width uid that
// precede a keyword found at index pos in body.
func splitGidUid(body string, pos int) (gid, uid string, err error) {
	if pos < annexUnitWidth {
		return "", "", &Error{Reason: "annex: missing gid/uid"}
	}
	return body[:pos-annexUnitWidth], body[pos-annexUnitWidth : pos], nil
}

// parseSignedFixed parses an optionally-signed integer whose digit run
// must be no longer than maxDigits; a longer digit run is malformed even
// if strconv.Atoi would happily parse it.
func parseSignedFixed(s string, maxDigits int) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	digits := s
	if s[0] == '+' || s[0] == '-' {
		digits = s[1:]
	}
	if len(digits) == 0 || len(digits) > maxDigits {
		return 0, fmt.Errorf("value digit count out of range")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-numeric value")
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad integer")
	}
	return n, nil
}

// EncodeAnnexRain builds a "g#rain<N>%" outbound message.
func EncodeAnnexRain(value int) string {
	return fmt.Sprintf("g#rain%d%%", value)
}

// EncodeAnnexSlitCommand builds a "g#<gid><uid>slit<CC>%" dome-slit
// command. cmd is 0=close, 1=open, 2=stop.
func EncodeAnnexSlitCommand(gid, uid string, cmd int) string {
	return fmt.Sprintf("g#%s%sslit%02d%%", gid, padUID(uid), cmd)
}

// EncodeAnnexFocus builds a "g#<gid><uid>focus<cid><±NNNNN>%" message.
func EncodeAnnexFocus(gid, uid, cid string, position int) string {
	return fmt.Sprintf("g#%s%sfocus%s%+06d%%", gid, padUID(uid), padCID(cid), position)
}

// EncodeAnnexFwhm builds a "g#<gid><uid>fwhm<cid><NNNN>%" message. fwhm is
// given in pixels and encoded as pixels*100.
func EncodeAnnexFwhm(gid, uid, cid string, fwhmPixels float64) string {
	return fmt.Sprintf("g#%s%sfwhm%s%04d%%", gid, padUID(uid), padCID(cid), int(fwhmPixels*100))
}

func padUID(uid string) string {
	return padRight(uid, annexUnitWidth)
}

func padCID(cid string) string {
	return padRight(cid, annexCidWidth)
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat("0", width-len(s))
}
