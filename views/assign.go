package views

import (
	"sync"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/feed"
)

// AssignView keeps the assignment board: the chat groups and the solvers
type AssignView struct {
	common.Component
	lock     sync.Mutex
	groups   []client.ChatGroup
	solvers  []client.User
	onChange func()
}

// NewAssignView define a new AssignView. "onChange" may be nil.
func NewAssignView(onChange func()) *AssignView {
	return &AssignView{
		Component: common.Component{
			LogTags: log.Fields{"module": "views", "component": "assign"},
		},
		groups:   []client.ChatGroup{},
		solvers:  []client.User{},
		onChange: onChange,
	}
}

// Handlers the feed handlers of the assignment feed
func (v *AssignView) Handlers() feed.Handlers {
	return feed.Handlers{
		OnSnapshot: func(snapshot interface{}) {
			board, ok := snapshot.(*client.AssignmentBoard)
			if !ok {
				log.WithFields(v.LogTags).Errorf("Unexpected snapshot type %T", snapshot)
				return
			}
			v.Apply(*board)
		},
	}
}

// Apply merge an update. Only the parts present in the update are replaced.
func (v *AssignView) Apply(board client.AssignmentBoard) {
	v.lock.Lock()
	if board.Groups != nil {
		v.groups = board.Groups
	}
	if board.Solvers != nil {
		v.solvers = board.Solvers
	}
	v.lock.Unlock()
	if v.onChange != nil {
		v.onChange()
	}
}

// Groups the chat groups of the board
func (v *AssignView) Groups() []client.ChatGroup {
	v.lock.Lock()
	defer v.lock.Unlock()
	result := make([]client.ChatGroup, len(v.groups))
	copy(result, v.groups)
	return result
}

// Solvers the solvers of the board
func (v *AssignView) Solvers() []client.User {
	v.lock.Lock()
	defer v.lock.Unlock()
	result := make([]client.User, len(v.solvers))
	copy(result, v.solvers)
	return result
}

// AvailableSolvers the solvers not yet assigned to a chat group
func (v *AssignView) AvailableSolvers(groupID string) []client.User {
	v.lock.Lock()
	defer v.lock.Unlock()
	assigned := map[string]bool{}
	for _, group := range v.groups {
		if group.ID != groupID {
			continue
		}
		for _, assignment := range group.Assignments {
			assigned[assignment.SolverUserID] = true
			if assignment.SolverUser != nil {
				assigned[assignment.SolverUser.ID] = true
			}
		}
	}
	available := []client.User{}
	for _, solver := range v.solvers {
		if !assigned[solver.ID] {
			available = append(available, solver)
		}
	}
	return available
}
