// internal/handler/errors.go
package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/fundus-service/internal/classifier"
)

// httpError maps a classifier error to a status code and the message shown
// to the client. Every failure past request validation is a 500.
func httpError(err error) (int, string) {
	switch classifier.KindOf(err) {
	case classifier.KindUnavailable:
		return http.StatusInternalServerError, classifier.ErrModelNotLoaded.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// grpcError maps a classifier error to a gRPC status error
func grpcError(err error) error {
	if err == nil {
		return nil
	}

	switch classifier.KindOf(err) {
	case classifier.KindUnavailable:
		return status.Error(codes.FailedPrecondition, classifier.ErrModelNotLoaded.Error())
	case classifier.KindDecode:
		return status.Errorf(codes.InvalidArgument, "invalid image: %v", err)
	case classifier.KindInference:
		return status.Errorf(codes.Internal, "inference execution failed: %v", err)
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
