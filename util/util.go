package util

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/gorilla/handlers"
	"github.com/natefinch/lumberjack"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

var (
	parsePattern = regexp.MustCompile(`(.*):(\d+)`)
	Logrotator   *lumberjack.Logger
)

const (
	LogInfo = "log.info"

	DefaultLogFileSize     = 100
	DefaultRetentionPeriod = 180
	DefaultMaxBackups      = 5
)

type LogToFile struct {
	Enable          bool `json:"enable"`
	MaxLogFileSize  int  `json:"maxlogfilesize"`
	RetentionPeriod int  `json:"retentionperiod"`
	MaxBackups      int  `json:"maxbackups"`
}

func StartLoggingToFile(dir string, lf LogToFile) error {
	fileName := dir + "/hostcall.log"
	Logrotator = &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    lf.MaxLogFileSize,
		MaxAge:     lf.RetentionPeriod,
		MaxBackups: lf.MaxBackups,
		LocalTime:  true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, Logrotator))
	if err := WriteLogInfo(dir, lf); err != nil {
		return err
	}
	logrus.Infof("Configured logging with retentionPeriod: %v, maxLogFileSize: %v, maxBackups: %v",
		lf.RetentionPeriod, lf.MaxLogFileSize, lf.MaxBackups)
	return nil
}

func ReadLogInfo(dir string) (LogToFile, error) {
	lf := &LogToFile{}
	p := dir + "/" + LogInfo
	f, err := os.Open(p)
	if err != nil {
		return LogToFile{}, err
	}
	defer f.Close()

	err = json.NewDecoder(f).Decode(lf)
	return *lf, err
}

func WriteLogInfo(dir string, lf LogToFile) error {
	path := dir + "/" + LogInfo
	f, err := os.Create(path + ".tmp")
	if err != nil {
		logrus.Errorf("failed to create temp file: %s while WriteLogInfo", LogInfo)
		return err
	}

	if err := json.NewEncoder(f).Encode(&lf); err != nil {
		logrus.Errorf("failed to encode the data to file: %s", f.Name())
		if closeErr := f.Close(); closeErr != nil {
			logrus.Errorf("failed to close file: %v, err: %v", f.Name(), closeErr)
		}
		return err
	}

	if err := f.Close(); err != nil {
		logrus.Errorf("failed to close file after encoding to file: %s", f.Name())
		return err
	}

	if err := os.Rename(path+".tmp", path); err != nil {
		return err
	}
	return SyncDir(dir)
}

// SyncDir sync dir after creating or deleting the file the directory
// also needs to be synced in order to guarantee the file is visible
// across system crashes. See man page of fsync for more details.
func SyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = f.Sync()
	closeErr := f.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func SetLogging(dir string, lf LogToFile) error {
	// close existing one if already configured
	if Logrotator != nil {
		if err := Logrotator.Close(); err != nil {
			return err
		}
	}

	if !lf.Enable {
		logrus.Infof("Disable logging to file")
		return WriteLogInfo(dir, lf)
	}
	return StartLoggingToFile(dir, lf)
}

func LogRotate(dir string) error {
	return Logrotator.Rotate()
}

// ParseAddresses returns the channel address and the management address on
// the following port.
func ParseAddresses(address string) (string, string, error) {
	matches := parsePattern.FindStringSubmatch(address)
	if matches == nil {
		return "", "", fmt.Errorf("Invalid address %s does not match pattern: %v", address, parsePattern)
	}

	host := matches[1]
	port, _ := strconv.Atoi(matches[2])

	return fmt.Sprintf("%s:%d", host, port),
		fmt.Sprintf("%s:%d", host, port+1), nil
}

func UUID() string {
	return uuid.NewV4().String()
}

// ParseSize turns human sizes like "20m" or "64k" into byte counts.
func ParseSize(size string) (int64, error) {
	return units.RAMInBytes(size)
}

type filteredLoggingHandler struct {
	filteredPaths  map[string]struct{}
	handler        http.Handler
	loggingHandler http.Handler
}

func FilteredLoggingHandler(filteredPaths map[string]struct{}, writer io.Writer, router http.Handler) http.Handler {
	return filteredLoggingHandler{
		filteredPaths:  filteredPaths,
		handler:        router,
		loggingHandler: handlers.LoggingHandler(writer, router),
	}
}

func (h filteredLoggingHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case "GET":
		if _, exists := h.filteredPaths[req.URL.Path]; exists {
			h.handler.ServeHTTP(w, req)
			return
		}
	}
	h.loggingHandler.ServeHTTP(w, req)
}

// GetRequestTimeout gets the per-request timeout from the env. Zero means
// use the built-in default.
func GetRequestTimeout() time.Duration {
	timeout, _ := strconv.ParseInt(os.Getenv("HOSTCALL_REQUEST_TIMEOUT"), 10, 64)
	if timeout == 0 {
		logrus.Infof("HOSTCALL_REQUEST_TIMEOUT env not set")
		return time.Duration(timeout)
	}
	return time.Duration(timeout) * time.Millisecond
}

func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
