package apis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// ========================================================================================

// attachRequestID middleware which echoes the caller's request ID, or a new one, in the
// response headers
func attachRequestID(header string, logTags log.Fields) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if header == "" {
				next.ServeHTTP(rw, r)
				return
			}
			// use provided request id from incoming request if any
			reqID := r.Header.Get(header)
			if reqID == "" {
				// or use some generated string
				reqID = uuid.New().String()
				r.Header.Set(header, reqID)
			}
			log.WithFields(logTags).Debugf("New request ID %s", reqID)
			rw.Header().Set(header, reqID)
			next.ServeHTTP(rw, r)
		})
	}
}

// bearerToken read the bearer token of a request
func bearerToken(r *http.Request) (string, error) {
	value := r.Header.Get("Authorization")
	if value == "" {
		return "", fmt.Errorf("no Authorization header")
	}
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("malformed Authorization header")
	}
	return parts[1], nil
}

// readJSONBody parse and validate a JSON request body
func readJSONBody(r *http.Request, validate *validator.Validate, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return err
	}
	return validate.Struct(target)
}
