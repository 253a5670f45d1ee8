package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/apex/log"
)

// =======================================================================
// Authentication

// Login authenticate and start a new session. The token is kept in the credential
// store.
func (c *RequestClient) Login(ctxt context.Context, email, password string) (AuthResponse, error) {
	return c.authenticate(ctxt, "/auth/login", Credentials{Email: email, Password: password})
}

// Register create an account and start a new session
func (c *RequestClient) Register(ctxt context.Context, email, password string) (AuthResponse, error) {
	return c.authenticate(ctxt, "/auth/register", Credentials{Email: email, Password: password})
}

func (c *RequestClient) authenticate(
	ctxt context.Context, path string, creds Credentials,
) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.Do(ctxt, http.MethodPost, path, creds, &resp); err != nil {
		return AuthResponse{}, err
	}
	if resp.AccessToken == "" {
		return AuthResponse{}, fmt.Errorf("backend returned no access token")
	}
	if err := c.credentials.Set(resp.AccessToken); err != nil {
		return AuthResponse{}, err
	}
	log.WithFields(c.LogTags).Infof("Started session for %s", resp.User.Email)
	return resp, nil
}

// Logout drop the current session
func (c *RequestClient) Logout() error {
	return c.credentials.Clear()
}

// Me fetch the user of the current session. A rejected token is cleared.
func (c *RequestClient) Me(ctxt context.Context) (User, error) {
	var user User
	if err := c.Do(ctxt, http.MethodGet, "/users/me", nil, &user); err != nil {
		if IsUnauthorized(err) {
			log.WithFields(c.LogTags).Warn("Session token rejected, clearing it")
			if clearErr := c.credentials.Clear(); clearErr != nil {
				log.WithError(clearErr).WithFields(c.LogTags).Error("Unable to clear token")
			}
		}
		return User{}, err
	}
	return user, nil
}

// =======================================================================
// PQR

// CreatePQR create a new PQR
func (c *RequestClient) CreatePQR(ctxt context.Context, req NewPQR) (PQR, error) {
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	var created PQR
	err := c.Do(ctxt, http.MethodPost, "/pqr", req, &created)
	return created, err
}

// MyPQRs list the PQRs of the current user
func (c *RequestClient) MyPQRs(ctxt context.Context) ([]PQR, error) {
	var pqrs []PQR
	err := c.Do(ctxt, http.MethodGet, "/pqr/mine", nil, &pqrs)
	return pqrs, err
}

// =======================================================================
// Chat

// ChatGroups list the chat groups visible to the current user
func (c *RequestClient) ChatGroups(ctxt context.Context) ([]ChatGroup, error) {
	var groups []ChatGroup
	err := c.Do(ctxt, http.MethodGet, "/chat/groups", nil, &groups)
	return groups, err
}

// ChatGroupsWithDetails list the chat groups with their PQR and assigned solvers
func (c *RequestClient) ChatGroupsWithDetails(ctxt context.Context) ([]ChatGroup, error) {
	var groups []ChatGroup
	err := c.Do(ctxt, http.MethodGet, "/chat/groups-with-details", nil, &groups)
	return groups, err
}

// ChatMessagesPath the pull path of a chat group's messages
func ChatMessagesPath(basePath, groupID string) string {
	return fmt.Sprintf("%s?groupId=%s", basePath, url.QueryEscape(groupID))
}

// ChatMessages list the messages of a chat group
func (c *RequestClient) ChatMessages(ctxt context.Context, groupID string) ([]ChatMessage, error) {
	var msgs []ChatMessage
	err := c.Do(ctxt, http.MethodGet, ChatMessagesPath("/chat/messages", groupID), nil, &msgs)
	return msgs, err
}

// SendMessage post a message into a chat group
func (c *RequestClient) SendMessage(ctxt context.Context, msg NewChatMessage) (ChatMessage, error) {
	var sent ChatMessage
	err := c.Do(ctxt, http.MethodPost, "/chat/message", msg, &sent)
	return sent, err
}

// SetGroupStatus change the status of a chat group
func (c *RequestClient) SetGroupStatus(ctxt context.Context, groupID, status string) error {
	return c.Do(
		ctxt,
		http.MethodPost,
		"/chat/set-group-status",
		GroupStatusChange{ChatGroupID: groupID, Status: status},
		nil,
	)
}

// =======================================================================
// Assignments

// SolversPath lists the users who can be assigned to chats
const SolversPath = "/assignments/solvers"

// Solvers list the users who can be assigned to chats
func (c *RequestClient) Solvers(ctxt context.Context) ([]User, error) {
	var solvers []User
	err := c.Do(ctxt, http.MethodGet, SolversPath, nil, &solvers)
	return solvers, err
}

// Assign assign a solver to a chat group
func (c *RequestClient) Assign(ctxt context.Context, groupID, solverID string) error {
	return c.Do(
		ctxt,
		http.MethodPost,
		"/assignments/assign",
		AssignmentChange{ChatGroupID: groupID, SolverUserID: solverID},
		nil,
	)
}

// Unassign remove a solver from a chat group
func (c *RequestClient) Unassign(ctxt context.Context, groupID, solverID string) error {
	if err := c.validateBody(AssignmentChange{ChatGroupID: groupID, SolverUserID: solverID}); err != nil {
		return err
	}
	path := fmt.Sprintf(
		"/assignments/unassign/%s/%s", url.PathEscape(groupID), url.PathEscape(solverID),
	)
	return c.Do(ctxt, http.MethodPost, path, nil, nil)
}

// =======================================================================
// User administration

// ListUsers list all users
func (c *RequestClient) ListUsers(ctxt context.Context) ([]User, error) {
	var users []User
	err := c.Do(ctxt, http.MethodGet, "/admin/users", nil, &users)
	return users, err
}

// CreateUser create a user
func (c *RequestClient) CreateUser(ctxt context.Context, req UserCreate) (User, error) {
	var user User
	err := c.Do(ctxt, http.MethodPost, "/admin/users", req, &user)
	return user, err
}

// UpdateUser update a user
func (c *RequestClient) UpdateUser(ctxt context.Context, userID string, req UserUpdate) (User, error) {
	var user User
	err := c.Do(ctxt, http.MethodPut, "/admin/users/"+url.PathEscape(userID), req, &user)
	return user, err
}

// DeleteUser delete a user
func (c *RequestClient) DeleteUser(ctxt context.Context, userID string) error {
	return c.Do(ctxt, http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil, nil)
}

// =======================================================================
// Dependence administration

// ListDependences list all dependences
func (c *RequestClient) ListDependences(ctxt context.Context) ([]Dependence, error) {
	var deps []Dependence
	err := c.Do(ctxt, http.MethodGet, "/dependences", nil, &deps)
	return deps, err
}

// CreateDependence create a dependence
func (c *RequestClient) CreateDependence(ctxt context.Context, name string) (Dependence, error) {
	var dep Dependence
	err := c.Do(ctxt, http.MethodPost, "/dependences", DependenceChange{Name: name}, &dep)
	return dep, err
}

// UpdateDependence rename a dependence
func (c *RequestClient) UpdateDependence(
	ctxt context.Context, depID, name string,
) (Dependence, error) {
	var dep Dependence
	err := c.Do(
		ctxt, http.MethodPut, "/dependences/"+url.PathEscape(depID), DependenceChange{Name: name}, &dep,
	)
	return dep, err
}

// DeleteDependence delete a dependence
func (c *RequestClient) DeleteDependence(ctxt context.Context, depID string) error {
	return c.Do(ctxt, http.MethodDelete, "/dependences/"+url.PathEscape(depID), nil, nil)
}
