package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/protocol"
)

// LoadDir parses every *.txt file in dir, in name order, and builds a
// timeline from the accepted records. Rejected or unreadable files are
// logged and skipped.
func LoadDir(dir string, p *protocol.Parser) (*Timeline, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var msgs []protocol.Message
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.L.Warn("skipping unreadable session file", "file", name, "error", err)
			continue
		}
		if msg, ok := p.Parse(name, string(data)); ok {
			msgs = append(msgs, msg)
		}
	}
	logger.L.Info("session loaded", "dir", dir, "files", len(names), "messages", len(msgs))
	return Load(msgs), nil
}
