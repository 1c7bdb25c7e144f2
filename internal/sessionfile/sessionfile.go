// Package sessionfile writes generated turns as MIDI64 records, one file
// per message, in the layout the replay loader reads back.
package sessionfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/protocol"
)

// Writer records messages under Dir.
type Writer struct {
	Dir string
}

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create messages dir: %w", err)
	}
	return &Writer{Dir: dir}, nil
}

// FileName is <agent>_<YYYYMMDD_HHMMSS>_<mmm>_<prefix><hex>.txt, stamped in
// local time. The millisecond field keeps turns closer than a second apart
// in order when the directory is loaded back.
func FileName(msg protocol.Message) string {
	id := msg.ID
	ts := msg.Timestamp.In(time.Local)
	return fmt.Sprintf("%s_%s_%03d_%c%05X.txt",
		strings.ToLower(id.Agent),
		ts.Format(protocol.FilenameTimeLayout),
		ts.Nanosecond()/int(time.Millisecond),
		id.Prefix, id.Sequence)
}

// Record writes the message block. The run id is not part of the record.
func (w *Writer) Record(_ context.Context, _ string, msg protocol.Message) error {
	path := filepath.Join(w.Dir, FileName(msg))
	if err := os.WriteFile(path, []byte(msg.Block()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", msg.Label(), err)
	}
	logger.L.Debug("message written", "id", msg.Label(), "file", path)
	return nil
}
