package log

import (
	"io"

	logrus "github.com/sirupsen/logrus"
)

// Init configures the text formatter shared by every qosbench command
// and sets the verbosity from the given level name (info if empty or invalid)
func Init(level string, out io.Writer) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableSorting:         true,
		DisableLevelTruncation: true,
	})
	if out != nil {
		logrus.SetOutput(out)
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

//Fatalf Logs first and then calls `logger.Exit(1)`
func Fatalf(msg string, err ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Fatalf(msg, err...)
}

//Infof log the General operational entries about what's going on inside the harness
func Infof(msg string, val ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Infof(msg, val...)
}

//Info log the General operational entries about what's going on inside the harness
func Info(msg string) {
	logrus.WithFields(logrus.Fields{}).Info(msg)
}

// InfoWithValues log the General operational entries about what's going on inside the harness
// It also print the extra key values pairs
func InfoWithValues(msg string, val map[string]interface{}) {
	logrus.WithFields(val).Info(msg)
}

// ErrorWithValues log the Error entries along with the extra key values pairs
func ErrorWithValues(msg string, val map[string]interface{}) {
	logrus.WithFields(val).Error(msg)
}

// Debugf log the verbose entries, e.g. every rendered command
func Debugf(msg string, val ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Debugf(msg, val...)
}

//Warn log the Non-critical entries that deserve eyes.
func Warn(msg string) {
	logrus.WithFields(logrus.Fields{}).Warn(msg)
}

//Warnf log the Non-critical entries that deserve eyes.
func Warnf(msg string, val ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Warnf(msg, val...)
}

//Errorf used for errors that should definitely be noted.
func Errorf(msg string, err ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Errorf(msg, err...)
}

//Error used for errors that should definitely be noted.
func Error(msg string) {
	logrus.WithFields(logrus.Fields{}).Error(msg)
}
