package git

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// isPermanentGitError reports failures that another attempt cannot fix.
func isPermanentGitError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch {
	case stderrors.Is(err, transport.ErrAuthenticationRequired),
		stderrors.Is(err, transport.ErrAuthorizationFailed),
		stderrors.Is(err, transport.ErrInvalidAuthMethod),
		stderrors.Is(err, transport.ErrRepositoryNotFound):
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "authentication") || strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return true
	}
	if strings.Contains(msg, "not found") || strings.Contains(msg, "invalid reference") {
		return true
	}
	if strings.Contains(msg, "unsupported protocol") || strings.Contains(msg, "unsupported scheme") {
		return true
	}
	var nerr net.Error
	if stderrors.As(err, &nerr) {
		return !nerr.Timeout()
	}
	return false
}

// isAuthFailure narrows a fetch failure to rejected credentials.
func isAuthFailure(err error) bool {
	return stderrors.Is(err, transport.ErrAuthenticationRequired) ||
		stderrors.Is(err, transport.ErrAuthorizationFailed) ||
		stderrors.Is(err, transport.ErrInvalidAuthMethod)
}
