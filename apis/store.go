package apis

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound entity does not exist
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ErrConflict entity already exists
type ErrConflict struct {
	Msg string
}

func (e ErrConflict) Error() string {
	return e.Msg
}

type userRecord struct {
	client.User
	passwordHash []byte
}

// Store is the in-memory state of the development backend
type Store struct {
	common.Component
	lock        sync.RWMutex
	users       map[string]*userRecord
	dependences map[string]client.Dependence
	pqrs        map[string]client.PQR
	pqrOwners   map[string]string
	groups      map[string]client.ChatGroup
	messages    map[string][]client.ChatMessage
	tokens      map[string]string
	now         func() time.Time
}

// NewStore define a new empty Store
func NewStore() *Store {
	return &Store{
		Component: common.Component{
			LogTags: log.Fields{"module": "apis", "component": "dev-store"},
		},
		users:       map[string]*userRecord{},
		dependences: map[string]client.Dependence{},
		pqrs:        map[string]client.PQR{},
		pqrOwners:   map[string]string{},
		groups:      map[string]client.ChatGroup{},
		messages:    map[string][]client.ChatMessage{},
		tokens:      map[string]string{},
		now:         time.Now,
	}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// ==============================================================================
// Users and sessions

// CreateUser register a user
func (s *Store) CreateUser(req client.UserCreate) (client.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return client.User{}, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	email := strings.ToLower(req.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			return client.User{}, ErrConflict{Msg: fmt.Sprintf("Email %s already registered", email)}
		}
	}
	user := client.User{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     email,
		Role:      req.Role,
		CreatedAt: s.timestamp(),
	}
	if req.DependenceID != "" {
		dep, ok := s.dependences[req.DependenceID]
		if !ok {
			return client.User{}, ErrNotFound{Kind: "dependence", ID: req.DependenceID}
		}
		user.Dependence = &dep
	}
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = &userRecord{User: user, passwordHash: hash}
	log.WithFields(s.LogTags).Infof("Created user %s (%s)", user.Email, user.Role)
	return user, nil
}

// issueToken define a session token for a user. The token carries the user claims
// in JWT layout so clients can read them.
func (s *Store) issueToken(user client.User) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims, _ := json.Marshal(auth.Claims{Subject: user.ID, Email: user.Email, Role: user.Role})
	signature := base64.RawURLEncoding.EncodeToString([]byte(uuid.New().String()))
	token := fmt.Sprintf(
		"%s.%s.%s", header, base64.RawURLEncoding.EncodeToString(claims), signature,
	)
	s.tokens[token] = user.ID
	return token
}

// Login check credentials and start a session
func (s *Store) Login(email, password string) (client.AuthResponse, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	email = strings.ToLower(email)
	for _, record := range s.users {
		if record.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)) != nil {
			break
		}
		return client.AuthResponse{AccessToken: s.issueToken(record.User), User: record.User}, nil
	}
	return client.AuthResponse{}, fmt.Errorf("invalid credentials")
}

// Register create a client account and start a session
func (s *Store) Register(email, password string) (client.AuthResponse, error) {
	user, err := s.CreateUser(client.UserCreate{
		Email: email, Password: password, Role: auth.RoleClient,
	})
	if err != nil {
		return client.AuthResponse{}, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return client.AuthResponse{AccessToken: s.issueToken(user), User: user}, nil
}

// Authenticate resolve a session token
func (s *Store) Authenticate(token string) (client.User, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	userID, ok := s.tokens[token]
	if !ok {
		return client.User{}, fmt.Errorf("unknown token")
	}
	record, ok := s.users[userID]
	if !ok {
		return client.User{}, fmt.Errorf("user of token is gone")
	}
	return record.User, nil
}

// ListUsers list all users ordered by email
func (s *Store) ListUsers() []client.User {
	s.lock.RLock()
	defer s.lock.RUnlock()
	users := []client.User{}
	for _, record := range s.users {
		users = append(users, record.User)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users
}

// Solvers list users with the solver role
func (s *Store) Solvers() []client.User {
	solvers := []client.User{}
	for _, user := range s.ListUsers() {
		if user.Role == auth.RoleSolver {
			solvers = append(solvers, user)
		}
	}
	return solvers
}

// UpdateUser change a user. Empty fields are left unchanged.
func (s *Store) UpdateUser(userID string, req client.UserUpdate) (client.User, error) {
	var hash []byte
	if req.Password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost); err != nil {
			return client.User{}, err
		}
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	record, ok := s.users[userID]
	if !ok {
		return client.User{}, ErrNotFound{Kind: "user", ID: userID}
	}
	if req.Email != "" {
		record.Email = strings.ToLower(req.Email)
	}
	if req.Role != "" {
		record.Role = req.Role
	}
	if hash != nil {
		record.passwordHash = hash
	}
	record.UpdatedAt = s.timestamp()
	return record.User, nil
}

// DeleteUser delete a user and end their sessions
func (s *Store) DeleteUser(userID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound{Kind: "user", ID: userID}
	}
	delete(s.users, userID)
	for token, owner := range s.tokens {
		if owner == userID {
			delete(s.tokens, token)
		}
	}
	for groupID, group := range s.groups {
		kept := []client.Assignment{}
		for _, assignment := range group.Assignments {
			if assignment.SolverUserID != userID {
				kept = append(kept, assignment)
			}
		}
		group.Assignments = kept
		s.groups[groupID] = group
	}
	return nil
}

// ==============================================================================
// Dependences

// ListDependences list all dependences ordered by name
func (s *Store) ListDependences() []client.Dependence {
	s.lock.RLock()
	defer s.lock.RUnlock()
	deps := []client.Dependence{}
	for _, dep := range s.dependences {
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps
}

// CreateDependence create a dependence
func (s *Store) CreateDependence(name string) (client.Dependence, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, existing := range s.dependences {
		if strings.EqualFold(existing.Name, name) {
			return client.Dependence{}, ErrConflict{Msg: fmt.Sprintf("Dependence %s already exists", name)}
		}
	}
	dep := client.Dependence{ID: uuid.New().String(), Name: name}
	s.dependences[dep.ID] = dep
	return dep, nil
}

// UpdateDependence rename a dependence
func (s *Store) UpdateDependence(depID, name string) (client.Dependence, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	dep, ok := s.dependences[depID]
	if !ok {
		return client.Dependence{}, ErrNotFound{Kind: "dependence", ID: depID}
	}
	dep.Name = name
	s.dependences[depID] = dep
	return dep, nil
}

// DeleteDependence delete a dependence
func (s *Store) DeleteDependence(depID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.dependences[depID]; !ok {
		return ErrNotFound{Kind: "dependence", ID: depID}
	}
	delete(s.dependences, depID)
	return nil
}

// ==============================================================================
// PQRs and chats

// CreatePQR create a PQR together with its chat group
func (s *Store) CreatePQR(owner client.User, req client.NewPQR) (client.PQR, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	pqr := client.PQR{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      client.StatusOpen,
		CreatedAt:   s.timestamp(),
	}
	if owner.Dependence != nil {
		dep := *owner.Dependence
		pqr.Dependence = &dep
	}
	s.pqrs[pqr.ID] = pqr
	s.pqrOwners[pqr.ID] = owner.ID
	group := client.ChatGroup{
		ID:          uuid.New().String(),
		Status:      client.StatusOpen,
		PQRID:       pqr.ID,
		Assignments: []client.Assignment{},
	}
	s.groups[group.ID] = group
	log.WithFields(s.LogTags).Infof("PQR %s opened chat group %s", pqr.ID, group.ID)
	return pqr, nil
}

// PQRsOf list the PQRs created by a user, newest first
func (s *Store) PQRsOf(userID string) []client.PQR {
	s.lock.RLock()
	defer s.lock.RUnlock()
	pqrs := []client.PQR{}
	for pqrID, owner := range s.pqrOwners {
		if owner == userID {
			pqrs = append(pqrs, s.pqrs[pqrID])
		}
	}
	sort.Slice(pqrs, func(i, j int) bool { return pqrs[i].CreatedAt > pqrs[j].CreatedAt })
	return pqrs
}

// canSee whether a user has access to a chat group. Must hold the lock.
func (s *Store) canSee(user client.User, group client.ChatGroup) bool {
	switch user.Role {
	case auth.RoleAdmin, auth.RoleSupervisor:
		return true
	case auth.RoleSolver:
		for _, assignment := range group.Assignments {
			if assignment.SolverUserID == user.ID {
				return true
			}
		}
		return false
	default:
		return s.pqrOwners[group.PQRID] == user.ID
	}
}

// detailed fill in the PQR and the assigned solvers of a group. Must hold the lock.
func (s *Store) detailed(group client.ChatGroup) client.ChatGroup {
	if pqr, ok := s.pqrs[group.PQRID]; ok {
		pqr.Status = group.Status
		group.PQR = &pqr
	}
	assignments := make([]client.Assignment, 0, len(group.Assignments))
	for _, assignment := range group.Assignments {
		if record, ok := s.users[assignment.SolverUserID]; ok {
			solver := record.User
			assignment.SolverUser = &solver
		}
		assignments = append(assignments, assignment)
	}
	group.Assignments = assignments
	return group
}

// GroupsFor list the chat groups a user can see, oldest PQR first
func (s *Store) GroupsFor(user client.User, withDetails bool) []client.ChatGroup {
	s.lock.RLock()
	defer s.lock.RUnlock()
	groups := []client.ChatGroup{}
	for _, group := range s.groups {
		if !s.canSee(user, group) {
			continue
		}
		if withDetails {
			group = s.detailed(group)
		}
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		left, right := s.pqrs[groups[i].PQRID].CreatedAt, s.pqrs[groups[j].PQRID].CreatedAt
		if left == right {
			return groups[i].ID < groups[j].ID
		}
		return left < right
	})
	return groups
}

// groupFor fetch a group the user can see. Must hold the lock.
func (s *Store) groupFor(user client.User, groupID string) (client.ChatGroup, error) {
	group, ok := s.groups[groupID]
	if !ok || !s.canSee(user, group) {
		return client.ChatGroup{}, ErrNotFound{Kind: "chat group", ID: groupID}
	}
	return group, nil
}

// MessagesOf list the messages of a chat group
func (s *Store) MessagesOf(user client.User, groupID string) ([]client.ChatMessage, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if _, err := s.groupFor(user, groupID); err != nil {
		return nil, err
	}
	msgs := make([]client.ChatMessage, len(s.messages[groupID]))
	copy(msgs, s.messages[groupID])
	return msgs, nil
}

// PostMessage add a message to a chat group. Closed groups accept no messages.
func (s *Store) PostMessage(sender client.User, req client.NewChatMessage) (client.ChatMessage, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	group, err := s.groupFor(sender, req.ChatGroupID)
	if err != nil {
		return client.ChatMessage{}, err
	}
	if group.Status == client.StatusClosed {
		return client.ChatMessage{}, ErrConflict{Msg: "Chat group is closed"}
	}
	senderCopy := sender
	msg := client.ChatMessage{
		ID:          uuid.New().String(),
		ChatGroupID: group.ID,
		SenderID:    sender.ID,
		Sender:      &senderCopy,
		Content:     req.Content,
		FileURL:     req.FileURL,
		FileType:    req.FileType,
		CreatedAt:   s.timestamp(),
	}
	s.messages[group.ID] = append(s.messages[group.ID], msg)
	return msg, nil
}

// SetGroupStatus change the status of a chat group
func (s *Store) SetGroupStatus(user client.User, groupID, status string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	group, err := s.groupFor(user, groupID)
	if err != nil {
		return err
	}
	group.Status = status
	s.groups[groupID] = group
	return nil
}

// Assign assign a solver to a chat group. Assigning twice is a no-op.
func (s *Store) Assign(groupID, solverID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound{Kind: "chat group", ID: groupID}
	}
	record, ok := s.users[solverID]
	if !ok || record.Role != auth.RoleSolver {
		return ErrNotFound{Kind: "solver", ID: solverID}
	}
	for _, assignment := range group.Assignments {
		if assignment.SolverUserID == solverID {
			return nil
		}
	}
	group.Assignments = append(group.Assignments, client.Assignment{
		ID: uuid.New().String(), SolverUserID: solverID,
	})
	s.groups[groupID] = group
	return nil
}

// Unassign remove a solver from a chat group
func (s *Store) Unassign(groupID, solverID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound{Kind: "chat group", ID: groupID}
	}
	kept := []client.Assignment{}
	found := false
	for _, assignment := range group.Assignments {
		if assignment.SolverUserID == solverID {
			found = true
			continue
		}
		kept = append(kept, assignment)
	}
	if !found {
		return ErrNotFound{Kind: "assignment", ID: solverID}
	}
	group.Assignments = kept
	s.groups[groupID] = group
	return nil
}

// ==============================================================================

// SeedUser a user created at startup
type SeedUser struct {
	Email    string
	Password string
	Role     string
}

// Seed populate the store with initial users and dependences
func (s *Store) Seed(users []SeedUser, dependences []string) error {
	for _, name := range dependences {
		if _, err := s.CreateDependence(name); err != nil {
			return err
		}
	}
	for _, user := range users {
		if _, err := s.CreateUser(client.UserCreate{
			Email: user.Email, Password: user.Password, Role: user.Role,
		}); err != nil {
			return err
		}
	}
	return nil
}
