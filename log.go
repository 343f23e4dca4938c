package helio

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// newLog builds the logger behind the diagnostics surface.
func newLog() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(colorable.NewColorableStdout())
	logger.SetReportCaller(true)
	logger.SetFormatter(&logrus.TextFormatter{
		ForceColors:            isatty.IsTerminal(os.Stdout.Fd()),
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: false,
		PadLevelText:           true,
		FullTimestamp:          true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			_, file := filepath.Split(f.File)
			return "", fmt.Sprintf("%s:%d", file, f.Line)
		},
		EnvironmentOverrideColors: true,
	})
	return logger
}
