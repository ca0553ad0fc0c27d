package steamcmd

import (
	"regexp"
	"strconv"
	"strings"
)

// Update is a partial progress update extracted from one line of steamcmd
// output. Nil pointer fields were not present on the line.
type Update struct {
	Percent          *float64
	BytesTransferred *uint64
	BytesTotal       *uint64
	ErrorText        string
}

// steamcmd reports progress as e.g.
//
//	Update state (0x61) downloading, progress: 42.07 (1585152 / 3767648)
//
// Phase names can be more than one word ("verifying update", "committing
// update") and the byte counts are not always present.
var progressRe = regexp.MustCompile(`Update state \(0x[0-9a-fA-F]+\) [\w ]+?, progress: ([0-9]+(?:\.[0-9]+)?)(?: \((\d+) / (\d+)\))?`)

// failureMarkers are substrings steamcmd emits on fatal errors, e.g.
// "ERROR! Failed to install app '440' (No subscription)".
var failureMarkers = []string{"ERROR!", "FAILED"}

// ParseProgress scans a single line of steamcmd output and extracts progress
// or failure information. It returns nil for lines carrying neither, which is
// the common case and not an error.
func ParseProgress(line string) *Update {
	if m := progressRe.FindStringSubmatch(line); m != nil {
		u := &Update{}

		pct, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			if pct > 100 {
				pct = 100
			}
			u.Percent = &pct
		}

		if m[2] != "" && m[3] != "" {
			if cur, err := strconv.ParseUint(m[2], 10, 64); err == nil {
				u.BytesTransferred = &cur
			}
			if total, err := strconv.ParseUint(m[3], 10, 64); err == nil {
				u.BytesTotal = &total
			}
		}

		return u
	}

	for _, marker := range failureMarkers {
		if strings.Contains(line, marker) {
			return &Update{ErrorText: strings.TrimSpace(line)}
		}
	}

	return nil
}
