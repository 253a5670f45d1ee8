package cmd

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/client"
)

// RunLogin start a session
func RunLogin(ctxt context.Context, cc *ClientContext, email, password string) error {
	resp, err := cc.Client.Login(ctxt, email, password)
	if err != nil {
		return err
	}
	return cc.Printer.Print(resp.User)
}

// RunRegister create a client account and start a session
func RunRegister(ctxt context.Context, cc *ClientContext, email, password string) error {
	resp, err := cc.Client.Register(ctxt, email, password)
	if err != nil {
		return err
	}
	return cc.Printer.Print(resp.User)
}

// RunLogout drop the current session
func RunLogout(cc *ClientContext) error {
	if err := cc.Client.Logout(); err != nil {
		log.WithError(err).WithFields(cc.LogTags).Error("Unable to clear session")
		return err
	}
	return nil
}

// WhoAmI is the current user as reported by the backend, plus the claims the
// local token carries
type WhoAmI struct {
	User   client.User  `json:"user"`
	Claims *auth.Claims `json:"claims,omitempty"`
}

// RunWhoAmI show the current user
func RunWhoAmI(ctxt context.Context, cc *ClientContext) error {
	user, err := cc.RequireRoles(ctxt)
	if err != nil {
		return err
	}
	result := WhoAmI{User: user}
	if claims, err := auth.PeekClaims(cc.Client.Credentials().Token()); err == nil {
		result.Claims = &claims
	} else {
		log.WithError(err).WithFields(cc.LogTags).Debug("Token carries no readable claims")
	}
	return cc.Printer.Print(result)
}

// =======================================================================
// PQR

// RunCreatePQR create a PQR
func RunCreatePQR(ctxt context.Context, cc *ClientContext, req client.NewPQR) error {
	if _, err := cc.RequireRoles(ctxt); err != nil {
		return err
	}
	created, err := cc.Client.CreatePQR(ctxt, req)
	if err != nil {
		return err
	}
	return cc.Printer.Print(created)
}

// RunMyPQRs list the PQRs of the current user
func RunMyPQRs(ctxt context.Context, cc *ClientContext) error {
	if _, err := cc.RequireRoles(ctxt); err != nil {
		return err
	}
	pqrs, err := cc.Client.MyPQRs(ctxt)
	if err != nil {
		return err
	}
	return cc.Printer.Print(pqrs)
}

// =======================================================================
// Chat

// RunChatGroups list the chat groups with their details
func RunChatGroups(ctxt context.Context, cc *ClientContext) error {
	if _, err := cc.RequireRoles(ctxt); err != nil {
		return err
	}
	groups, err := cc.Client.ChatGroupsWithDetails(ctxt)
	if err != nil {
		return err
	}
	return cc.Printer.Print(groups)
}

// RunSendMessage post a message into a chat group
func RunSendMessage(ctxt context.Context, cc *ClientContext, msg client.NewChatMessage) error {
	if _, err := cc.RequireRoles(ctxt); err != nil {
		return err
	}
	sent, err := cc.Client.SendMessage(ctxt, msg)
	if err != nil {
		return err
	}
	return cc.Printer.Print(sent)
}

// RunSetGroupStatus change the status of a chat group
func RunSetGroupStatus(ctxt context.Context, cc *ClientContext, groupID, status string) error {
	if _, err := cc.RequireRoles(ctxt); err != nil {
		return err
	}
	return cc.Client.SetGroupStatus(ctxt, groupID, status)
}

// =======================================================================
// Assignments

// RunSolvers list the assignable solvers
func RunSolvers(ctxt context.Context, cc *ClientContext) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	solvers, err := cc.Client.Solvers(ctxt)
	if err != nil {
		return err
	}
	return cc.Printer.Print(solvers)
}

// RunAssign assign or unassign a solver
func RunAssign(
	ctxt context.Context, cc *ClientContext, groupID, solverID string, remove bool,
) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	if remove {
		return cc.Client.Unassign(ctxt, groupID, solverID)
	}
	return cc.Client.Assign(ctxt, groupID, solverID)
}

// =======================================================================
// Administration

// RunListUsers list all users
func RunListUsers(ctxt context.Context, cc *ClientContext) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	users, err := cc.Client.ListUsers(ctxt)
	if err != nil {
		return err
	}
	return cc.Printer.Print(users)
}

// RunCreateUser create a user
func RunCreateUser(ctxt context.Context, cc *ClientContext, req client.UserCreate) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	user, err := cc.Client.CreateUser(ctxt, req)
	if err != nil {
		return err
	}
	return cc.Printer.Print(user)
}

// RunUpdateUser update a user
func RunUpdateUser(
	ctxt context.Context, cc *ClientContext, userID string, req client.UserUpdate,
) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	if req == (client.UserUpdate{}) {
		return fmt.Errorf("nothing to update")
	}
	user, err := cc.Client.UpdateUser(ctxt, userID, req)
	if err != nil {
		return err
	}
	return cc.Printer.Print(user)
}

// RunDeleteUser delete a user
func RunDeleteUser(ctxt context.Context, cc *ClientContext, userID string) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	return cc.Client.DeleteUser(ctxt, userID)
}

// RunListDependences list all dependences
func RunListDependences(ctxt context.Context, cc *ClientContext) error {
	if _, err := cc.RequireRoles(ctxt); err != nil {
		return err
	}
	deps, err := cc.Client.ListDependences(ctxt)
	if err != nil {
		return err
	}
	return cc.Printer.Print(deps)
}

// RunSaveDependence create a dependence, or rename it when an ID is given
func RunSaveDependence(ctxt context.Context, cc *ClientContext, depID, name string) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	var dep client.Dependence
	var err error
	if depID == "" {
		dep, err = cc.Client.CreateDependence(ctxt, name)
	} else {
		dep, err = cc.Client.UpdateDependence(ctxt, depID, name)
	}
	if err != nil {
		return err
	}
	return cc.Printer.Print(dep)
}

// RunDeleteDependence delete a dependence
func RunDeleteDependence(ctxt context.Context, cc *ClientContext, depID string) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	return cc.Client.DeleteDependence(ctxt, depID)
}
