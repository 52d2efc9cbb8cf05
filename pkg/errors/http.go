package errors

import "net/http"

// HTTPStatus maps err onto the status a REST handler should answer with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		return http.StatusOK
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeUpload, CodeSubscription:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
