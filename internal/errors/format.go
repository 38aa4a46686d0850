package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FormatForUser turns an invocation error into a short actionable message.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	var (
		remoteErr     *RemoteError
		decodeErr     *ProtocolDecodeError
		incompleteErr *IncompleteRunError
		statusErr     *StatusError
		classified    *ClassifiedError
	)
	switch {
	case errors.As(err, &remoteErr):
		return "Remote action failed: " + remoteErr.Message
	case errors.As(err, &decodeErr):
		return "The server sent a lifecycle record this client cannot decode. Check that client and server versions match."
	case errors.As(err, &incompleteErr):
		return fmt.Sprintf("Action %q ended before reporting success or failure.", incompleteErr.Action)
	case errors.As(err, &statusErr):
		return formatStatus(statusErr.StatusCode)
	case errors.As(err, &classified) && classified.Message != "":
		return classified.Message
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "Shipment server is not reachable. Check the endpoint and that the server is running."
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "Request timed out. Increase the timeout or check the server load."
	}
	return err.Error()
}

func formatStatus(code int) string {
	switch {
	case code == http.StatusNotFound:
		return "Unknown action or endpoint (HTTP 404). Run `shipment actions` to list what the server exposes."
	case retryableStatus(code):
		return fmt.Sprintf("Server error (HTTP %d). The service may be temporarily unavailable.", code)
	default:
		return fmt.Sprintf("Request rejected (HTTP %d).", code)
	}
}
