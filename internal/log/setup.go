package log

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Configure sets the level and text formatting of the standard logger.
func Configure(out io.Writer, level string, noColor bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}
	logrus.SetOutput(out)
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   noColor,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return nil
}
