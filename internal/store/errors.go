package store

import "github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"

var (
	errTemplateName      = gwerrors.New(gwerrors.InvalidArgument, "template name must not be empty")
	errSubprocessCommand = gwerrors.New(gwerrors.InvalidArgument, "subprocess template requires a command")
	errBaseURL           = gwerrors.New(gwerrors.InvalidArgument, "http/http-stream template requires a baseUrl")
	errTransportKind     = gwerrors.New(gwerrors.InvalidArgument, "unknown transport kind")
)

// NewNotFoundError builds a NotFound error for the named resource.
func NewNotFoundError(kind, name string) *gwerrors.Error {
	return gwerrors.New(gwerrors.NotFound, kind+" "+name+" not found")
}

// NewPreconditionError builds a PreconditionFail error, used when a
// template referenced by a running instance is deleted (spec §3).
func NewPreconditionError(message string) *gwerrors.Error {
	return gwerrors.New(gwerrors.PreconditionFail, message)
}
