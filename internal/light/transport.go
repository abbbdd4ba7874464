package light

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

// OpenDevice opens a characteristic bridge such as an rfcomm or serial
// device node. Every Write sends one frame.
func OpenDevice(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open light device %s: %w", path, err)
	}
	return f, nil
}

// LogTransport stands in for a device when none is configured; frames are
// logged at debug level.
type LogTransport struct {
	logger *logger.Logger
}

// NewLogTransport creates a transport that only logs
func NewLogTransport(log *logger.Logger) *LogTransport {
	return &LogTransport{logger: log}
}

func (t *LogTransport) Write(p []byte) (int, error) {
	t.logger.Debug("light: frame", "bytes", hex.EncodeToString(p))
	return len(p), nil
}

func (t *LogTransport) Close() error {
	return nil
}
