// +build !debug

package inject

// AddSendTimeout add delays into the request send path
func AddSendTimeout() {}

// AddDispatchTimeout add delay before dispatching a request
func AddDispatchTimeout() {}

// DropResponses is used to discard responses instead of sending them
func DropResponses() bool { return false }
