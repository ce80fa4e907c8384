package proc

import (
	"fmt"
	"log/slog"
)

func logQueue(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "queue"))
}

func warnQueue(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...), slog.String("component", "queue"))
}

func logPlayer(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "player"))
}

func warnPlayer(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...), slog.String("component", "player"))
}
