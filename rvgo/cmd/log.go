package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvjit/rvgo/config"
)

func Logger(w io.Writer, lvl slog.Level, format string) log.Logger {
	if format == config.FormatTerminal {
		return log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, false))
	}
	return log.NewLogger(log.LogfmtHandlerWithLevel(w, lvl))
}

// LoggingWriter is a simple util to wrap a logger,
// and expose an io Writer interface,
// for the program running within the VM to write to.
type LoggingWriter struct {
	Name string
	Log  log.Logger
}

func logAsText(b string) bool {
	for _, c := range b {
		if (c < 0x20 || c >= 0x7F) && (c != '\n' && c != '\t') {
			return false
		}
	}
	return true
}

func (lw *LoggingWriter) Write(b []byte) (int, error) {
	t := string(b)
	if logAsText(t) {
		lw.Log.Info("", "stream", lw.Name, "text", t)
	} else {
		lw.Log.Info("", "stream", lw.Name, "data", hexutil.Bytes(b))
	}
	return len(b), nil
}

// HexU64 to lazy-format guest addresses for logging
type HexU64 uint64

func (v HexU64) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

func (v HexU64) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
