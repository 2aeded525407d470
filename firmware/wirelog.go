package firmware

import (
	"io"

	"github.com/sirupsen/logrus"
)

// wireFormatter renders entries as the bracketed log lines the host shows
// verbatim: "[STATUS] ...", "[ERROR] ...", "[DEBUG] ...".
type wireFormatter struct{}

func (wireFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tag := "STATUS"
	switch entry.Level {
	case logrus.TraceLevel, logrus.DebugLevel:
		tag = "DEBUG"
	case logrus.WarnLevel:
		tag = "WARN"
	case logrus.ErrorLevel:
		tag = "ERROR"
	case logrus.FatalLevel, logrus.PanicLevel:
		tag = "FATAL"
	}
	return []byte("[" + tag + "] " + entry.Message + "\n"), nil
}

// wireWriter shares the engine's wire lock so log lines never split a
// protocol line.
type wireWriter struct{ e *Engine }

func (w wireWriter) Write(p []byte) (int, error) {
	w.e.wireMu.Lock()
	defer w.e.wireMu.Unlock()
	return w.e.out.Write(p)
}

func newWireLogger(e *Engine) *logrus.Logger {
	return newBracketLogger(wireWriter{e})
}

func newBracketLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(wireFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}
