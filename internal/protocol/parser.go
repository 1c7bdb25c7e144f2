package protocol

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/comigor/midi64-go/internal/logger"
)

// FilenameTimeLayout is the YYYYMMDD_HHMMSS stamp embedded in session file names.
// Writers may follow it with _mmm milliseconds.
const FilenameTimeLayout = "20060102_150405"

var filenameStamp = regexp.MustCompile(`(\d{8}_\d{6})(?:_(\d{3})(?:\D|$))?`)

// Parser turns raw session records into Messages.
// Records whose file name carries no timestamp are stamped with Now at
// parse time, so their replay order follows parse order.
type Parser struct {
	Now func() time.Time
}

// NewParser returns a parser using the wall clock.
func NewParser() *Parser {
	return &Parser{Now: time.Now}
}

// Parse is the lenient form used for batch loads: rejects are logged
// with their reason and reported as ok == false.
func (p *Parser) Parse(filename, content string) (Message, bool) {
	msg, err := p.Decode(filename, content)
	if err != nil {
		logger.L.Warn("skipping midi64 record", "file", filename, "error", err)
		return Message{}, false
	}
	return msg, true
}

// Decode parses content, returning a *FormatError on rejection.
func (p *Parser) Decode(filename, content string) (Message, error) {
	lines := nonEmptyLines(content)
	if len(lines) < 2 {
		return Message{}, formatErr(filename, "expected identifier and payload lines")
	}
	id, err := ParseID(lines[0])
	if err != nil {
		return Message{}, err
	}
	if _, err := base64.StdEncoding.Strict().DecodeString(lines[1]); err != nil {
		return Message{}, formatErr(lines[0], "payload is not valid base64")
	}
	msg, err := NewMessage(id, lines[1], p.timestamp(filename))
	if err != nil {
		return Message{}, err
	}
	msg.Source = filename
	return msg, nil
}

func (p *Parser) timestamp(filename string) time.Time {
	if m := filenameStamp.FindStringSubmatch(filename); m != nil {
		if ts, err := time.ParseInLocation(FilenameTimeLayout, m[1], time.Local); err == nil {
			if ms, err := strconv.Atoi(m[2]); err == nil {
				ts = ts.Add(time.Duration(ms) * time.Millisecond)
			}
			return ts
		}
	}
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// FindBlock scans free text, such as a chat reply, for the first
// identifier line directly followed by a base64 line.
func FindBlock(text string) (Message, error) {
	lines := nonEmptyLines(text)
	for i := 0; i+1 < len(lines); i++ {
		id, err := ParseID(lines[i])
		if err != nil {
			continue
		}
		if _, err := base64.StdEncoding.Strict().DecodeString(lines[i+1]); err != nil {
			continue
		}
		msg, err := NewMessage(id, lines[i+1], time.Now())
		if err != nil {
			continue
		}
		return msg, nil
	}
	return Message{}, formatErr(truncate(text, 40), "no midi64 block found")
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
