package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectRequest          = "gateway.v1.request"
	SubjectEmit             = "gateway.v1.emit"
	SubjectDisconnect       = "gateway.v1.disconnect"
	SubjectListenersChanged = "gateway.listeners.changed"
)

// Caller headers attached to gateway and direct service requests.
const (
	HeaderAppID         = "Gateway-App-Id"
	HeaderConnectionID  = "Gateway-Connection-Id"
	HeaderRequestID     = "Gateway-Request-Id"
	HeaderAuthorization = "Authorization"
)

// BuildNotifySubject builds the subject a connection receives event notifications on.
func BuildNotifySubject(connectionID string) string {
	return fmt.Sprintf("gateway.notify.%s", subjectToken(connectionID))
}

// BuildServiceSubject builds a COMMS subject for a service major version.
func BuildServiceSubject(name string, major uint64) string {
	return fmt.Sprintf("svc.%s.v%d", subjectToken(name), major)
}

// BuildDirectSubject builds the subject for a direct method call on a service.
func BuildDirectSubject(serviceSubject, method string) string {
	return serviceSubject + "." + subjectToken(method)
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
