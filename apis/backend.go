// Copyright 2021-2022 The httpmq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apis provides a development PQR backend serving the same REST and event
// stream contract as the production backend.
package apis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
)

// PQRBackendHandler REST handler for the development backend
type PQRBackendHandler struct {
	goutils.RestAPIHandler
	store           *Store
	validate        *validator.Validate
	baseContext     context.Context
	streamPeriod    time.Duration
	requestIDHeader string
	upgrader        *websocket.Upgrader
}

// GetPQRBackendHandler define PQRBackendHandler
func GetPQRBackendHandler(
	baseContext context.Context,
	store *Store,
	httpConfig *common.HTTPConfig,
	streamPeriod time.Duration,
) (PQRBackendHandler, error) {
	if store == nil {
		return PQRBackendHandler{}, fmt.Errorf("no store provided")
	}
	if streamPeriod <= 0 {
		return PQRBackendHandler{}, fmt.Errorf("invalid stream period %s", streamPeriod)
	}
	logTags := log.Fields{
		"module":    "apis",
		"component": "pqr-backend",
	}
	return PQRBackendHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		store:           store,
		validate:        validator.New(),
		baseContext:     baseContext,
		streamPeriod:    streamPeriod,
		requestIDHeader: httpConfig.Logging.RequestIDHeader,
		upgrader: &websocket.Upgrader{
			// The development backend serves any origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// errorReply define a standard error body
func (h PQRBackendHandler) errorReply(
	r *http.Request, code int, msg string, err error,
) interface{} {
	detail := msg
	if err != nil {
		detail = err.Error()
	}
	return h.GetStdRESTErrorMsg(r.Context(), code, msg, detail)
}

// storeErrorCode map a store error onto a HTTP status
func storeErrorCode(err error) int {
	var notFound ErrNotFound
	var conflict ErrConflict
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// caller resolve the user behind a request, and check they hold one of the roles
func (h PQRBackendHandler) caller(
	r *http.Request, requiredRoles ...string,
) (client.User, int, error) {
	token, err := bearerToken(r)
	if err != nil {
		return client.User{}, http.StatusUnauthorized, err
	}
	user, err := h.store.Authenticate(token)
	if err != nil {
		return client.User{}, http.StatusUnauthorized, err
	}
	identity := user.Identity()
	if !auth.Allowed(&identity, requiredRoles...) {
		return client.User{}, http.StatusForbidden, fmt.Errorf(
			"role %s not allowed", user.Role,
		)
	}
	return user, http.StatusOK, nil
}

// endpoint the common frame of a request / response end-point. "op" returns the
// response code and body.
func (h PQRBackendHandler) endpoint(
	roles []string,
	op func(r *http.Request, user client.User, logTags log.Fields) (int, interface{}),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localLogTags := h.GetLogTagsForContext(r.Context())
		var respCode int
		var respBody interface{}
		defer func() {
			if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
				log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
			}
		}()

		var user client.User
		if roles != nil {
			var err error
			if user, respCode, err = h.caller(r, roles...); err != nil {
				msg := "Request not authorized"
				log.WithError(err).WithFields(localLogTags).Debug(msg)
				respBody = h.errorReply(r, respCode, msg, err)
				return
			}
		}
		respCode, respBody = op(r, user, localLogTags)
	}
}

// anyUser only requires an authenticated user
var anyUser = []string{}

// staffRoles may change chat group status
var staffRoles = []string{auth.RoleAdmin, auth.RoleSupervisor, auth.RoleSolver}

// =======================================================================
// Authentication

// LoginHandler POST /auth/login
func (h PQRBackendHandler) LoginHandler() http.HandlerFunc {
	return h.endpoint(nil, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		var creds client.Credentials
		if err := readJSONBody(r, h.validate, &creds); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		resp, err := h.store.Login(creds.Email, creds.Password)
		if err != nil {
			msg := "Invalid credentials"
			log.WithError(err).WithFields(logTags).Info(msg)
			return http.StatusUnauthorized, h.errorReply(r, http.StatusUnauthorized, msg, err)
		}
		return http.StatusOK, resp
	})
}

// RegisterHandler POST /auth/register
func (h PQRBackendHandler) RegisterHandler() http.HandlerFunc {
	return h.endpoint(nil, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		var creds client.Credentials
		if err := readJSONBody(r, h.validate, &creds); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		resp, err := h.store.Register(creds.Email, creds.Password)
		if err != nil {
			msg := "Unable to register"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusCreated, resp
	})
}

// MeHandler GET /users/me
func (h PQRBackendHandler) MeHandler() http.HandlerFunc {
	return h.endpoint(anyUser, func(_ *http.Request, user client.User, _ log.Fields) (int, interface{}) {
		return http.StatusOK, user
	})
}

// =======================================================================
// PQR

// CreatePQRHandler POST /pqr
func (h PQRBackendHandler) CreatePQRHandler() http.HandlerFunc {
	return h.endpoint(anyUser, func(r *http.Request, user client.User, logTags log.Fields) (int, interface{}) {
		var req client.NewPQR
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		if req.Priority == "" {
			req.Priority = client.PriorityMedium
		}
		if err := h.validate.Struct(&req); err != nil {
			msg := "Invalid PQR"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		pqr, err := h.store.CreatePQR(user, req)
		if err != nil {
			msg := "Unable to create PQR"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusCreated, pqr
	})
}

// MyPQRsHandler GET /pqr/mine
func (h PQRBackendHandler) MyPQRsHandler() http.HandlerFunc {
	return h.endpoint(anyUser, func(_ *http.Request, user client.User, _ log.Fields) (int, interface{}) {
		return http.StatusOK, h.store.PQRsOf(user.ID)
	})
}

// =======================================================================
// Chat

// ChatGroupsHandler GET /chat/groups and /chat/groups-with-details
func (h PQRBackendHandler) ChatGroupsHandler(withDetails bool) http.HandlerFunc {
	return h.endpoint(anyUser, func(_ *http.Request, user client.User, _ log.Fields) (int, interface{}) {
		return http.StatusOK, h.store.GroupsFor(user, withDetails)
	})
}

// ChatMessagesHandler GET /chat/messages?groupId=
func (h PQRBackendHandler) ChatMessagesHandler() http.HandlerFunc {
	return h.endpoint(anyUser, func(r *http.Request, user client.User, logTags log.Fields) (int, interface{}) {
		groupID := r.URL.Query().Get("groupId")
		if groupID == "" {
			msg := "No groupId provided"
			log.WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, nil)
		}
		msgs, err := h.store.MessagesOf(user, groupID)
		if err != nil {
			msg := "Unable to read messages"
			log.WithError(err).WithFields(logTags).Debug(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, msgs
	})
}

// SendMessageHandler POST /chat/message
func (h PQRBackendHandler) SendMessageHandler() http.HandlerFunc {
	return h.endpoint(anyUser, func(r *http.Request, user client.User, logTags log.Fields) (int, interface{}) {
		var req client.NewChatMessage
		if err := readJSONBody(r, h.validate, &req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		sent, err := h.store.PostMessage(user, req)
		if err != nil {
			msg := "Unable to send message"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusCreated, sent
	})
}

// SetGroupStatusHandler POST /chat/set-group-status
func (h PQRBackendHandler) SetGroupStatusHandler() http.HandlerFunc {
	return h.endpoint(staffRoles, func(r *http.Request, user client.User, logTags log.Fields) (int, interface{}) {
		var req client.GroupStatusChange
		if err := readJSONBody(r, h.validate, &req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		if err := h.store.SetGroupStatus(user, req.ChatGroupID, req.Status); err != nil {
			msg := "Unable to change status"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, h.GetStdRESTSuccessMsg(r.Context())
	})
}

// =======================================================================
// Assignments

// SolversHandler GET /assignments/solvers
func (h PQRBackendHandler) SolversHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(_ *http.Request, _ client.User, _ log.Fields) (int, interface{}) {
		return http.StatusOK, h.store.Solvers()
	})
}

// assignmentBoard the complete assignment board
func (h PQRBackendHandler) assignmentBoard(user client.User) client.AssignmentBoard {
	return client.AssignmentBoard{
		Groups: h.store.GroupsFor(user, true), Solvers: h.store.Solvers(),
	}
}

// AssignHandler POST /assignments/assign
func (h PQRBackendHandler) AssignHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		var req client.AssignmentChange
		if err := readJSONBody(r, h.validate, &req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		if err := h.store.Assign(req.ChatGroupID, req.SolverUserID); err != nil {
			msg := "Unable to assign solver"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, h.GetStdRESTSuccessMsg(r.Context())
	})
}

// UnassignHandler POST /assignments/unassign/{groupID}/{solverID}
func (h PQRBackendHandler) UnassignHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		vars := mux.Vars(r)
		groupID, solverID := vars["groupID"], vars["solverID"]
		if groupID == "" || solverID == "" {
			msg := "Chat group and solver are required"
			log.WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, nil)
		}
		if err := h.store.Unassign(groupID, solverID); err != nil {
			msg := "Unable to unassign solver"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, h.GetStdRESTSuccessMsg(r.Context())
	})
}

// =======================================================================
// User administration

// ListUsersHandler GET /admin/users
func (h PQRBackendHandler) ListUsersHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(_ *http.Request, _ client.User, _ log.Fields) (int, interface{}) {
		return http.StatusOK, h.store.ListUsers()
	})
}

// CreateUserHandler POST /admin/users
func (h PQRBackendHandler) CreateUserHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		var req client.UserCreate
		if err := readJSONBody(r, h.validate, &req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		user, err := h.store.CreateUser(req)
		if err != nil {
			msg := "Unable to create user"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusCreated, user
	})
}

// UpdateUserHandler PUT /admin/users/{userID}
func (h PQRBackendHandler) UpdateUserHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		var req client.UserUpdate
		if err := readJSONBody(r, h.validate, &req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		user, err := h.store.UpdateUser(mux.Vars(r)["userID"], req)
		if err != nil {
			msg := "Unable to update user"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, user
	})
}

// DeleteUserHandler DELETE /admin/users/{userID}
func (h PQRBackendHandler) DeleteUserHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		if err := h.store.DeleteUser(mux.Vars(r)["userID"]); err != nil {
			msg := "Unable to delete user"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, h.GetStdRESTSuccessMsg(r.Context())
	})
}

// =======================================================================
// Dependence administration

// ListDependencesHandler GET /dependences
func (h PQRBackendHandler) ListDependencesHandler() http.HandlerFunc {
	return h.endpoint(anyUser, func(_ *http.Request, _ client.User, _ log.Fields) (int, interface{}) {
		return http.StatusOK, h.store.ListDependences()
	})
}

// CreateDependenceHandler POST /dependences
func (h PQRBackendHandler) CreateDependenceHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		var req client.DependenceChange
		if err := readJSONBody(r, h.validate, &req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		dep, err := h.store.CreateDependence(req.Name)
		if err != nil {
			msg := "Unable to create dependence"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusCreated, dep
	})
}

// UpdateDependenceHandler PUT /dependences/{depID}
func (h PQRBackendHandler) UpdateDependenceHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		var req client.DependenceChange
		if err := readJSONBody(r, h.validate, &req); err != nil {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(logTags).Error(msg)
			return http.StatusBadRequest, h.errorReply(r, http.StatusBadRequest, msg, err)
		}
		dep, err := h.store.UpdateDependence(mux.Vars(r)["depID"], req.Name)
		if err != nil {
			msg := "Unable to update dependence"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, dep
	})
}

// DeleteDependenceHandler DELETE /dependences/{depID}
func (h PQRBackendHandler) DeleteDependenceHandler() http.HandlerFunc {
	return h.endpoint(auth.AdminRoles, func(r *http.Request, _ client.User, logTags log.Fields) (int, interface{}) {
		if err := h.store.DeleteDependence(mux.Vars(r)["depID"]); err != nil {
			msg := "Unable to delete dependence"
			log.WithError(err).WithFields(logTags).Error(msg)
			code := storeErrorCode(err)
			return code, h.errorReply(r, code, msg, err)
		}
		return http.StatusOK, h.GetStdRESTSuccessMsg(r.Context())
	})
}

// =======================================================================
// Event streams

// snapshotSource produce the current snapshot for a streaming user
type snapshotSource func(user client.User) interface{}

// stream serve an event stream, as server sent events or over a websocket when the
// request asks for an upgrade. The full snapshot is sent on connect, then every
// stream period, until the request ends or the server stops.
func (h PQRBackendHandler) stream(roles []string, source snapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logTags := h.GetLogTagsForContext(r.Context())

		user, code, err := h.caller(r, roles...)
		if err != nil {
			msg := "Stream not authorized"
			log.WithError(err).WithFields(logTags).Debug(msg)
			if err := h.WriteRESTResponse(w, code, h.errorReply(r, code, msg, err), nil); err != nil {
				log.WithError(err).WithFields(logTags).Error("Failed to form response")
			}
			return
		}

		if websocket.IsWebSocketUpgrade(r) {
			h.streamWebSocket(w, r, user, source, logTags)
			return
		}

		// Create stream flusher
		writeFlusher, ok := w.(http.Flusher)
		if !ok {
			msg := "Streaming not supported"
			log.WithFields(logTags).Errorf(msg)
			if err := h.WriteRESTResponse(
				w,
				http.StatusInternalServerError,
				h.errorReply(r, http.StatusInternalServerError, msg, nil),
				nil,
			); err != nil {
				log.WithError(err).WithFields(logTags).Error("Failed to form response")
			}
			return
		}

		// Send support headers for SSE first
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		send := func() error {
			serialize, err := json.Marshal(source(user))
			if err != nil {
				return err
			}
			written, err := fmt.Fprintf(w, "data: %s\n\n", serialize)
			writeFlusher.Flush()
			if err != nil {
				return err
			}
			log.WithFields(logTags).Debugf("Written %dB", written)
			return nil
		}

		ticker := time.NewTicker(h.streamPeriod)
		defer ticker.Stop()
		for {
			if err := send(); err != nil {
				log.WithError(err).WithFields(logTags).Error("Failed to transmit snapshot")
				return
			}
			select {
			case <-h.baseContext.Done():
				log.WithFields(logTags).Info("Terminating stream on server stop")
				return
			case <-r.Context().Done():
				log.WithFields(logTags).Debug("Terminating stream on request end")
				return
			case <-ticker.C:
			}
		}
	}
}

// streamWebSocket serve a stream over a websocket, one snapshot per text message
func (h PQRBackendHandler) streamWebSocket(
	w http.ResponseWriter,
	r *http.Request,
	user client.User,
	source snapshotSource,
	logTags log.Fields,
) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied
		log.WithError(err).WithFields(logTags).Error("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Control frames are only processed while reading
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.streamPeriod)
	defer ticker.Stop()
	for {
		serialize, err := json.Marshal(source(user))
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to serialize snapshot")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(h.streamPeriod * 2))
		if err := conn.WriteMessage(websocket.TextMessage, serialize); err != nil {
			log.WithError(err).WithFields(logTags).Debug("Failed to transmit snapshot")
			return
		}
		select {
		case <-h.baseContext.Done():
			log.WithFields(logTags).Info("Terminating websocket on server stop")
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second),
			)
			return
		case <-r.Context().Done():
			return
		case <-peerGone:
			log.WithFields(logTags).Debug("Terminating websocket on peer close")
			return
		case <-ticker.C:
		}
	}
}

// DashboardStreamHandler GET /dashboard/stream
func (h PQRBackendHandler) DashboardStreamHandler() http.HandlerFunc {
	return h.stream(auth.FeedRoles, func(user client.User) interface{} {
		return client.DashboardSnapshot{Chats: h.store.GroupsFor(user, true)}
	})
}

// ChatGroupsStreamHandler GET /chat/groups/stream
func (h PQRBackendHandler) ChatGroupsStreamHandler() http.HandlerFunc {
	return h.stream(anyUser, func(user client.User) interface{} {
		return h.store.GroupsFor(user, true)
	})
}

// AssignmentsStreamHandler GET /assignments/stream
func (h PQRBackendHandler) AssignmentsStreamHandler() http.HandlerFunc {
	return h.stream(auth.AdminRoles, func(user client.User) interface{} {
		return h.assignmentBoard(user)
	})
}

// =======================================================================
// Health Checks

// AliveHandler GET /alive
func (h PQRBackendHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localLogTags := h.GetLogTagsForContext(r.Context())
		if err := h.WriteRESTResponse(
			w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}
}

// =======================================================================

// BuildRouter define the router serving every end-point under the path prefix
func BuildRouter(h PQRBackendHandler, pathPrefix string) *mux.Router {
	router := mux.NewRouter()
	mainRouter := RegisterPathPrefix(router, pathPrefix, nil)

	// Authentication
	_ = RegisterPathPrefix(mainRouter, "/auth/login", MethodHandlers{
		"post": h.LoginHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/auth/register", MethodHandlers{
		"post": h.RegisterHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/users/me", MethodHandlers{
		"get": h.MeHandler(),
	})

	// PQR
	_ = RegisterPathPrefix(mainRouter, "/pqr/mine", MethodHandlers{
		"get": h.MyPQRsHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/pqr", MethodHandlers{
		"post": h.CreatePQRHandler(),
	})

	// Chat
	_ = RegisterPathPrefix(mainRouter, "/chat/groups/stream", MethodHandlers{
		"get": h.ChatGroupsStreamHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/chat/groups-with-details", MethodHandlers{
		"get": h.ChatGroupsHandler(true),
	})
	_ = RegisterPathPrefix(mainRouter, "/chat/groups", MethodHandlers{
		"get": h.ChatGroupsHandler(false),
	})
	_ = RegisterPathPrefix(mainRouter, "/chat/messages", MethodHandlers{
		"get": h.ChatMessagesHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/chat/message", MethodHandlers{
		"post": h.SendMessageHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/chat/set-group-status", MethodHandlers{
		"post": h.SetGroupStatusHandler(),
	})

	// Dashboard
	_ = RegisterPathPrefix(mainRouter, "/dashboard/stream", MethodHandlers{
		"get": h.DashboardStreamHandler(),
	})

	// Assignments
	_ = RegisterPathPrefix(mainRouter, "/assignments/solvers", MethodHandlers{
		"get": h.SolversHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/assignments/stream", MethodHandlers{
		"get": h.AssignmentsStreamHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/assignments/assign", MethodHandlers{
		"post": h.AssignHandler(),
	})
	_ = RegisterPathPrefix(
		mainRouter, "/assignments/unassign/{groupID}/{solverID}", MethodHandlers{
			"post": h.UnassignHandler(),
		},
	)

	// User administration
	usersRouter := RegisterPathPrefix(mainRouter, "/admin/users", MethodHandlers{
		"get":  h.ListUsersHandler(),
		"post": h.CreateUserHandler(),
	})
	_ = RegisterPathPrefix(usersRouter, "/{userID}", MethodHandlers{
		"put":    h.UpdateUserHandler(),
		"delete": h.DeleteUserHandler(),
	})

	// Dependence administration
	depRouter := RegisterPathPrefix(mainRouter, "/dependences", MethodHandlers{
		"get":  h.ListDependencesHandler(),
		"post": h.CreateDependenceHandler(),
	})
	_ = RegisterPathPrefix(depRouter, "/{depID}", MethodHandlers{
		"put":    h.UpdateDependenceHandler(),
		"delete": h.DeleteDependenceHandler(),
	})

	// Health check
	_ = RegisterPathPrefix(mainRouter, "/alive", MethodHandlers{
		"get": h.AliveHandler(),
	})

	// Add logging
	router.Use(attachRequestID(h.requestIDHeader, h.LogTags))
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(h, next)
	})

	return router
}
