// Package client provides the authenticated REST client of the PQR backend.
// Types mirror the backend wire format.
package client

import (
	"fmt"
	"time"

	"github.com/pqrdesk/pqrclient/auth"
)

// PQR priorities
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

// Chat group statuses
const (
	StatusOpen       = "OPEN"
	StatusInProgress = "IN_PROGRESS"
	StatusResolved   = "RESOLVED"
	StatusClosed     = "CLOSED"
)

// Dependence is an organizational unit PQRs are routed to
type Dependence struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a PQR system user
type User struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	Email      string      `json:"email"`
	Role       string      `json:"role"`
	RoleID     *string     `json:"roleId,omitempty"`
	Dependence *Dependence `json:"dependence,omitempty"`
	CreatedAt  string      `json:"createdAt,omitempty"`
	UpdatedAt  string      `json:"updatedAt,omitempty"`
}

// Identity the access control view of the user
func (u User) Identity() auth.Identity {
	return auth.Identity{ID: u.ID, Email: u.Email, Role: u.Role}
}

// PQR is one petition / complaint / claim ticket
type PQR struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Priority    string      `json:"priority,omitempty"`
	Status      string      `json:"status,omitempty"`
	Dependence  *Dependence `json:"dependence,omitempty"`
	CreatedAt   string      `json:"created_at,omitempty"`
}

// Assignment links a solver to a chat group
type Assignment struct {
	ID           string `json:"id,omitempty"`
	SolverUserID string `json:"solver_user_id,omitempty"`
	SolverUser   *User  `json:"solver_user,omitempty"`
}

// ChatGroup is the conversation bound to one PQR
type ChatGroup struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	PQRID       string       `json:"pqr_id,omitempty"`
	PQR         *PQR         `json:"pqr,omitempty"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

// ChatMessage is one message of a chat group
type ChatMessage struct {
	ID          string `json:"id"`
	ChatGroupID string `json:"chat_group_id"`
	SenderID    string `json:"sender_id,omitempty"`
	Sender      *User  `json:"sender,omitempty"`
	Content     string `json:"content"`
	FileURL     string `json:"file_url,omitempty"`
	FileType    string `json:"file_type,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// AuthResponse is returned by login and register
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// DashboardSnapshot is the payload of the dashboard feed
type DashboardSnapshot struct {
	Chats []ChatGroup `json:"chats"`
}

// AssignmentBoard is the payload of the assignment feed. A nil field was not part
// of the update.
type AssignmentBoard struct {
	Groups  []ChatGroup `json:"groups,omitempty"`
	Solvers []User      `json:"solvers,omitempty"`
}

// ==============================================================================
// Request bodies

// Credentials login / register request
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// NewPQR PQR creation request
type NewPQR struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Priority    string `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH"`
}

// NewChatMessage message send request
type NewChatMessage struct {
	ChatGroupID string `json:"chat_group_id" validate:"required"`
	Content     string `json:"content" validate:"required_without=FileURL"`
	FileURL     string `json:"file_url,omitempty" validate:"omitempty,url"`
	FileType    string `json:"file_type,omitempty" validate:"required_with=FileURL"`
}

// GroupStatusChange chat group status change request
type GroupStatusChange struct {
	ChatGroupID string `json:"chat_group_id" validate:"required"`
	Status      string `json:"status" validate:"required,oneof=OPEN IN_PROGRESS RESOLVED CLOSED"`
}

// AssignmentChange solver assignment request
type AssignmentChange struct {
	ChatGroupID  string `json:"chat_group_id" validate:"required"`
	SolverUserID string `json:"solver_user_id" validate:"required"`
}

// UserCreate user creation request
type UserCreate struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	Role         string `json:"role" validate:"required,oneof=Admin Client Solver Supervisor"`
	DependenceID string `json:"dependenceId,omitempty"`
}

// UserUpdate user update request. Empty fields are left unchanged.
type UserUpdate struct {
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=Admin Client Solver Supervisor"`
	Password string `json:"password,omitempty"`
}

// DependenceChange dependence create / update request
type DependenceChange struct {
	Name string `json:"name" validate:"required"`
}

// ==============================================================================

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parse a backend timestamp in any of the layouts the backend emits
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp '%s'", value)
}
