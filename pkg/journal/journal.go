// Package journal persists completed trades as append-only JSON lines.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// FileJournal is a file-backed trade journal. One JSON document per line;
// corrupt lines are skipped on read so a torn write cannot poison history.
type FileJournal struct {
	logger *zap.Logger
	path   string

	mu   sync.Mutex
	file *os.File
}

// NewFileJournal opens (or creates) the journal file in append mode
func NewFileJournal(logger *zap.Logger, path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return &FileJournal{
		logger: logger.Named("journal"),
		path:   path,
		file:   f,
	}, nil
}

// AppendTrade writes one trade record as a JSON line
func (j *FileJournal) AppendTrade(record *types.TradeRecord) error {
	if record == nil {
		return fmt.Errorf("nil trade record")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode trade record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal is closed")
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append trade record: %w", err)
	}
	return nil
}

// ReadAllTrades reads the full journal from disk. Lines that fail to decode
// are logged and skipped.
func (j *FileJournal) ReadAllTrades() ([]*types.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer f.Close()

	var trades []*types.TradeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var record types.TradeRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			j.logger.Warn("skipping corrupt journal line",
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		trades = append(trades, &record)
	}
	if err := scanner.Err(); err != nil {
		return trades, fmt.Errorf("failed to read journal file: %w", err)
	}
	return trades, nil
}

// Close flushes and closes the journal file
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
