// +build debug

package inject

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

func IsDebugBuild() bool {
	ok := os.Getenv("IS_DEBUG_BUILD")
	if ok == "True" {
		return true
	}
	return false
}

// AddSendTimeout add delays into the request send path
func AddSendTimeout() {
	timeout, _ := strconv.Atoi(os.Getenv("DEBUG_SEND_TIMEOUT"))
	logrus.Infof("Add send timeout of %vs for debug build", timeout)
	time.Sleep(time.Duration(timeout) * time.Second)
}

// AddDispatchTimeout add delay before dispatching a request
func AddDispatchTimeout() {
	timeout, _ := strconv.Atoi(os.Getenv("DEBUG_DISPATCH_TIMEOUT"))
	logrus.Infof("Add dispatch timeout of %vs for debug build", timeout)
	time.Sleep(time.Duration(timeout) * time.Second)
}

// DropResponses is used to discard responses instead of sending them
func DropResponses() bool {
	ok := os.Getenv("DEBUG_DROP_RESPONSES")
	return ok == "True"
}
