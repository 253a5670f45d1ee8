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

package apis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/feed"
	"github.com/pqrdesk/pqrclient/views"
	"github.com/stretchr/testify/assert"
)

const (
	testAdminEmail    = "admin@pqr.local"
	testAdminPassword = "admin"
)

func newTestStore(t *testing.T) *Store {
	store := NewStore()
	assert.Nil(t, store.Seed(
		[]SeedUser{{Email: testAdminEmail, Password: testAdminPassword, Role: auth.RoleAdmin}},
		[]string{"Support"},
	))
	return store
}

func newTestServer(
	t *testing.T, ctxt context.Context, store *Store, streamPeriod time.Duration,
) *httptest.Server {
	httpConfig := common.HTTPConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: "Pqr-Request-ID",
			DoNotLogHeaders: []string{"Authorization"},
		},
	}
	handler, err := GetPQRBackendHandler(ctxt, store, &httpConfig, streamPeriod)
	assert.Nil(t, err)
	return httptest.NewServer(BuildRouter(handler, "/api"))
}

func newTestClient(t *testing.T, server *httptest.Server) *client.RequestClient {
	rc, err := client.NewRequestClient(
		common.BackendConfig{BaseURL: server.URL, APIPrefix: "/api", RequestTimeout: 5},
		auth.NewMemoryCredentialStore(""),
	)
	assert.Nil(t, err)
	return rc
}

func apiStatus(err error) int {
	if apiErr, ok := err.(*client.APIError); ok {
		return apiErr.StatusCode
	}
	return 0
}

func TestStoreVisibility(t *testing.T) {
	assert := assert.New(t)

	uut := newTestStore(t)

	owner, err := uut.CreateUser(client.UserCreate{
		Email: "Owner@pqr.local", Password: "pw", Role: auth.RoleClient,
	})
	assert.Nil(err)
	assert.Equal("owner@pqr.local", owner.Email)
	_, err = uut.CreateUser(client.UserCreate{
		Email: "owner@pqr.local", Password: "pw", Role: auth.RoleClient,
	})
	assert.IsType(ErrConflict{}, err)

	other, err := uut.CreateUser(client.UserCreate{
		Email: "other@pqr.local", Password: "pw", Role: auth.RoleClient,
	})
	assert.Nil(err)
	solver, err := uut.CreateUser(client.UserCreate{
		Email: "solver@pqr.local", Password: "pw", Role: auth.RoleSolver,
	})
	assert.Nil(err)
	supervisor, err := uut.CreateUser(client.UserCreate{
		Email: "super@pqr.local", Password: "pw", Role: auth.RoleSupervisor,
	})
	assert.Nil(err)

	pqr, err := uut.CreatePQR(owner, client.NewPQR{
		Title: "Broken", Description: "It broke", Priority: client.PriorityHigh,
	})
	assert.Nil(err)
	assert.Equal(client.StatusOpen, pqr.Status)
	assert.Len(uut.PQRsOf(owner.ID), 1)
	assert.Empty(uut.PQRsOf(other.ID))

	groups := uut.GroupsFor(owner, true)
	assert.Len(groups, 1)
	groupID := groups[0].ID
	assert.Equal(pqr.ID, groups[0].PQR.ID)
	assert.Empty(uut.GroupsFor(other, false))
	assert.Empty(uut.GroupsFor(solver, false))
	assert.Len(uut.GroupsFor(supervisor, false), 1)

	// Solvers see what they are assigned to
	assert.Nil(uut.Assign(groupID, solver.ID))
	assert.Nil(uut.Assign(groupID, solver.ID))
	detailed := uut.GroupsFor(solver, true)
	assert.Len(detailed, 1)
	assert.Len(detailed[0].Assignments, 1)
	assert.Equal(solver.Email, detailed[0].Assignments[0].SolverUser.Email)
	assert.IsType(ErrNotFound{}, uut.Assign(groupID, owner.ID))

	// Messaging
	_, err = uut.PostMessage(other, client.NewChatMessage{ChatGroupID: groupID, Content: "hi"})
	assert.IsType(ErrNotFound{}, err)
	msg, err := uut.PostMessage(solver, client.NewChatMessage{ChatGroupID: groupID, Content: "hi"})
	assert.Nil(err)
	assert.Equal(solver.ID, msg.SenderID)
	msgs, err := uut.MessagesOf(owner, groupID)
	assert.Nil(err)
	assert.Len(msgs, 1)

	assert.Nil(uut.SetGroupStatus(solver, groupID, client.StatusClosed))
	_, err = uut.PostMessage(owner, client.NewChatMessage{ChatGroupID: groupID, Content: "hey"})
	assert.IsType(ErrConflict{}, err)
	assert.Equal(client.StatusClosed, uut.GroupsFor(owner, true)[0].PQR.Status)

	// Deleting a solver drops their assignments
	assert.Nil(uut.DeleteUser(solver.ID))
	assert.Empty(uut.GroupsFor(supervisor, false)[0].Assignments)
	assert.IsType(ErrNotFound{}, uut.Unassign(groupID, solver.ID))
}

func TestStoreSessions(t *testing.T) {
	assert := assert.New(t)

	uut := newTestStore(t)

	_, err := uut.Login(testAdminEmail, "wrong")
	assert.NotNil(err)
	_, err = uut.Login("nobody@pqr.local", testAdminPassword)
	assert.NotNil(err)

	resp, err := uut.Login(testAdminEmail, testAdminPassword)
	assert.Nil(err)
	assert.Equal(auth.RoleAdmin, resp.User.Role)
	claims, err := auth.PeekClaims(resp.AccessToken)
	assert.Nil(err)
	assert.Equal(resp.User.ID, claims.Subject)
	assert.Equal(auth.RoleAdmin, claims.Role)

	user, err := uut.Authenticate(resp.AccessToken)
	assert.Nil(err)
	assert.Equal(testAdminEmail, user.Email)
	_, err = uut.Authenticate("not-a-token")
	assert.NotNil(err)

	registered, err := uut.Register("new@pqr.local", "pw")
	assert.Nil(err)
	assert.Equal(auth.RoleClient, registered.User.Role)

	// Password change applies to the next login
	_, err = uut.UpdateUser(registered.User.ID, client.UserUpdate{Password: "pw2"})
	assert.Nil(err)
	_, err = uut.Login("new@pqr.local", "pw")
	assert.NotNil(err)
	_, err = uut.Login("new@pqr.local", "pw2")
	assert.Nil(err)

	// Sessions of deleted users end
	assert.Nil(uut.DeleteUser(registered.User.ID))
	_, err = uut.Authenticate(registered.AccessToken)
	assert.NotNil(err)
	assert.IsType(ErrNotFound{}, uut.DeleteUser(registered.User.ID))
}

func TestBackendREST(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := newTestStore(t)
	server := newTestServer(t, utCtxt, store, time.Millisecond*100)
	defer server.Close()

	// Request IDs are echoed back
	{
		resp, err := http.Get(server.URL + "/api/alive")
		assert.Nil(err)
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.NotEmpty(resp.Header.Get("Pqr-Request-ID"))
		resp.Body.Close()

		req, err := http.NewRequest(http.MethodGet, server.URL+"/api/alive", nil)
		assert.Nil(err)
		req.Header.Set("Pqr-Request-ID", "fixed-id")
		resp, err = http.DefaultClient.Do(req)
		assert.Nil(err)
		assert.Equal("fixed-id", resp.Header.Get("Pqr-Request-ID"))
		resp.Body.Close()
	}

	ctxt := context.Background()
	admin := newTestClient(t, server)
	customer := newTestClient(t, server)
	solverClient := newTestClient(t, server)

	// Unauthenticated
	_, err := admin.Me(ctxt)
	assert.Equal(http.StatusUnauthorized, apiStatus(err))

	_, err = admin.Login(ctxt, testAdminEmail, "wrong")
	assert.Equal(http.StatusUnauthorized, apiStatus(err))
	_, err = admin.Login(ctxt, testAdminEmail, testAdminPassword)
	assert.Nil(err)
	me, err := admin.Me(ctxt)
	assert.Nil(err)
	assert.Equal(auth.RoleAdmin, me.Role)

	// Dependences
	deps, err := admin.ListDependences(ctxt)
	assert.Nil(err)
	assert.Len(deps, 1)
	dep, err := admin.CreateDependence(ctxt, "Billing")
	assert.Nil(err)
	_, err = admin.CreateDependence(ctxt, "billing")
	assert.Equal(http.StatusConflict, apiStatus(err))
	dep, err = admin.UpdateDependence(ctxt, dep.ID, "Invoicing")
	assert.Nil(err)
	assert.Equal("Invoicing", dep.Name)
	assert.Nil(admin.DeleteDependence(ctxt, dep.ID))
	assert.Equal(http.StatusNotFound, apiStatus(admin.DeleteDependence(ctxt, dep.ID)))

	// Users
	solverEmail := uuid.New().String() + "@pqr.local"
	solver, err := admin.CreateUser(ctxt, client.UserCreate{
		Email: solverEmail, Password: "pw", Role: auth.RoleSolver,
	})
	assert.Nil(err)
	updated, err := admin.UpdateUser(ctxt, solver.ID, client.UserUpdate{Password: "pw2"})
	assert.Nil(err)
	assert.Equal(solverEmail, updated.Email)
	users, err := admin.ListUsers(ctxt)
	assert.Nil(err)
	assert.Len(users, 2)

	// Customer flow
	registered, err := customer.Register(ctxt, "customer@pqr.local", "pw")
	assert.Nil(err)
	assert.Equal(auth.RoleClient, registered.User.Role)
	_, err = customer.ListUsers(ctxt)
	assert.Equal(http.StatusForbidden, apiStatus(err))

	pqr, err := customer.CreatePQR(ctxt, client.NewPQR{Title: "Late", Description: "Package late"})
	assert.Nil(err)
	assert.Equal(client.PriorityMedium, pqr.Priority)
	mine, err := customer.MyPQRs(ctxt)
	assert.Nil(err)
	assert.Len(mine, 1)

	groups, err := customer.ChatGroups(ctxt)
	assert.Nil(err)
	assert.Len(groups, 1)
	assert.Nil(groups[0].PQR)
	groupID := groups[0].ID

	_, err = customer.SendMessage(ctxt, client.NewChatMessage{ChatGroupID: groupID, Content: "Any news?"})
	assert.Nil(err)
	assert.Equal(
		http.StatusForbidden, apiStatus(customer.SetGroupStatus(ctxt, groupID, client.StatusClosed)),
	)

	// Assignment
	solvers, err := admin.Solvers(ctxt)
	assert.Nil(err)
	assert.Len(solvers, 1)
	assert.Nil(admin.Assign(ctxt, groupID, solver.ID))

	_, err = solverClient.Login(ctxt, solverEmail, "pw2")
	assert.Nil(err)
	detailed, err := solverClient.ChatGroupsWithDetails(ctxt)
	assert.Nil(err)
	assert.Len(detailed, 1)
	assert.Equal(pqr.ID, detailed[0].PQR.ID)
	msgs, err := solverClient.ChatMessages(ctxt, groupID)
	assert.Nil(err)
	assert.Len(msgs, 1)
	assert.Equal("Any news?", msgs[0].Content)

	assert.Nil(solverClient.SetGroupStatus(ctxt, groupID, client.StatusClosed))
	_, err = customer.SendMessage(ctxt, client.NewChatMessage{ChatGroupID: groupID, Content: "Hello?"})
	assert.Equal(http.StatusConflict, apiStatus(err))

	assert.Nil(admin.Unassign(ctxt, groupID, solver.ID))
	detailed, err = solverClient.ChatGroupsWithDetails(ctxt)
	assert.Nil(err)
	assert.Empty(detailed)
	assert.Equal(http.StatusNotFound, apiStatus(admin.Unassign(ctxt, groupID, solver.ID)))

	// Deleted user's session is rejected and cleared
	assert.Nil(admin.DeleteUser(ctxt, solver.ID))
	_, err = solverClient.Me(ctxt)
	assert.Equal(http.StatusUnauthorized, apiStatus(err))
	assert.Empty(solverClient.Credentials().Token())
}

func TestBackendStreams(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())

	store := newTestStore(t)
	server := newTestServer(t, utCtxt, store, time.Millisecond*50)
	defer func() {
		utCtxtCancel()
		wg.Wait()
		server.Close()
	}()

	ctxt := context.Background()
	admin := newTestClient(t, server)
	_, err := admin.Login(ctxt, testAdminEmail, testAdminPassword)
	assert.Nil(err)
	customer := newTestClient(t, server)
	_, err = customer.Register(ctxt, "stream@pqr.local", "pw")
	assert.Nil(err)
	_, err = customer.CreatePQR(ctxt, client.NewPQR{Title: "One", Description: "First"})
	assert.Nil(err)

	policyConfig := common.FeedPolicyConfig{
		StreamPath:        "/dashboard/stream",
		PollPath:          "/chat/groups-with-details",
		PollInterval:      50,
		ReconnectStep:     20,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       10,
	}

	// Dashboard over the event stream
	{
		controller, err := feed.NewController(
			utCtxt, feed.NewSSETransport(admin, &wg), admin, &wg,
		)
		assert.Nil(err)
		dashboard := views.NewDashboardView(nil)
		session, err := controller.Start(views.DashboardFeed(policyConfig, nil), dashboard.Handlers())
		assert.Nil(err)

		assert.Eventually(func() bool {
			return dashboard.Summary().Stats.Total == 1
		}, time.Second*2, time.Millisecond*10)

		// A new PQR shows up on a later snapshot
		_, err = customer.CreatePQR(ctxt, client.NewPQR{Title: "Two", Description: "Second"})
		assert.Nil(err)
		assert.Eventually(func() bool {
			return dashboard.Summary().Stats.Total == 2
		}, time.Second*2, time.Millisecond*10)

		status := session.Status()
		assert.Equal(feed.ModeStream, status.Mode)
		assert.Equal(0, status.RetryCount)
		assert.Equal(1, status.StreamAttempts)
		session.Cancel()
	}

	// Clients may not open the dashboard stream so the feed ends up polling
	{
		controller, err := feed.NewController(
			utCtxt, feed.NewSSETransport(customer, &wg), customer, &wg,
		)
		assert.Nil(err)
		dashboard := views.NewDashboardView(nil)
		session, err := controller.Start(views.DashboardFeed(policyConfig, nil), dashboard.Handlers())
		assert.Nil(err)

		assert.Eventually(func() bool {
			return session.Status().Mode == feed.ModePoll
		}, time.Second*2, time.Millisecond*10)
		assert.Eventually(func() bool {
			return dashboard.Summary().Stats.Total == 2
		}, time.Second*2, time.Millisecond*10)
		session.Cancel()
	}

	// Assignment board stream
	{
		controller, err := feed.NewController(
			utCtxt, feed.NewSSETransport(admin, &wg), admin, &wg,
		)
		assert.Nil(err)
		board := views.NewAssignView(nil)
		assignConfig := policyConfig
		assignConfig.StreamPath = "/assignments/stream"
		session, err := controller.Start(
			views.AssignmentsFeed(assignConfig, admin, nil), board.Handlers(),
		)
		assert.Nil(err)
		assert.Eventually(func() bool {
			return len(board.Groups()) == 2
		}, time.Second*2, time.Millisecond*10)
		assert.Empty(board.Solvers())
		session.Cancel()
	}

	// Assignment board pulled from the chat group and solver end-points
	{
		solver, err := admin.CreateUser(ctxt, client.UserCreate{
			Email: "solver@pqr.local", Password: "pw", Role: auth.RoleSolver,
		})
		assert.Nil(err)
		controller, err := feed.NewController(utCtxt, nil, admin, &wg)
		assert.Nil(err)
		board := views.NewAssignView(nil)
		assignConfig := policyConfig
		assignConfig.StreamPath = "/assignments/stream"
		session, err := controller.Start(
			views.AssignmentsFeed(assignConfig, admin, nil), board.Handlers(),
		)
		assert.Nil(err)
		assert.Eventually(func() bool {
			return len(board.Groups()) == 2 && len(board.Solvers()) == 1
		}, time.Second*2, time.Millisecond*10)
		assert.Equal(feed.ModePoll, session.Status().Mode)
		assert.Equal(solver.ID, board.Solvers()[0].ID)
		session.Cancel()
		assert.Nil(admin.DeleteUser(ctxt, solver.ID))
	}

	// Dashboard over a websocket
	{
		controller, err := feed.NewController(
			utCtxt, feed.NewWebSocketTransport(admin, time.Second, &wg), admin, &wg,
		)
		assert.Nil(err)
		dashboard := views.NewDashboardView(nil)
		session, err := controller.Start(views.DashboardFeed(policyConfig, nil), dashboard.Handlers())
		assert.Nil(err)

		assert.Eventually(func() bool {
			return dashboard.Summary().Stats.Total == 2
		}, time.Second*2, time.Millisecond*10)
		status := session.Status()
		assert.Equal(feed.ModeStream, status.Mode)
		assert.Equal(1, status.StreamAttempts)
		session.Cancel()
	}

	// The websocket handshake is refused for clients as well
	{
		_, err := customer.DialWebSocket(ctxt, "/dashboard/stream")
		assert.NotNil(err)
		assert.Equal(http.StatusForbidden, apiStatus(err))

		controller, err := feed.NewController(
			utCtxt, feed.NewWebSocketTransport(customer, time.Second, &wg), customer, &wg,
		)
		assert.Nil(err)
		dashboard := views.NewDashboardView(nil)
		session, err := controller.Start(views.DashboardFeed(policyConfig, nil), dashboard.Handlers())
		assert.Nil(err)
		assert.Eventually(func() bool {
			return session.Status().Mode == feed.ModePoll
		}, time.Second*2, time.Millisecond*10)
		session.Cancel()
	}
}
