package views

import (
	"fmt"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/feed"
)

// StatusBadge the badge color of a chat group status
func StatusBadge(status string) string {
	switch strings.ToUpper(status) {
	case client.StatusOpen:
		return "success"
	case client.StatusInProgress:
		return "warning"
	case client.StatusResolved:
		return "info"
	case client.StatusClosed:
		return "error"
	default:
		return "default"
	}
}

// PriorityBadge the badge color of a PQR priority
func PriorityBadge(priority string) string {
	switch strings.ToUpper(priority) {
	case client.PriorityHigh:
		return "error"
	case client.PriorityMedium:
		return "warning"
	case client.PriorityLow:
		return "success"
	default:
		return "default"
	}
}

// ==============================================================================

// ChatView tracks the chat group list, the active group and its messages.
//
// The group list comes from the chat group feed. Selecting a group switches the
// message slot to that group's message feed.
type ChatView struct {
	common.Component
	messages   *feed.Slot
	feedConfig common.FeedPolicyConfig
	isTerminal func(error) bool
	onChange   func()

	// switchLock orders the decisions about the active group with the slot
	// operations which follow from them
	switchLock sync.Mutex

	lock            sync.Mutex
	groups          []client.ChatGroup
	active          *client.ChatGroup
	msgs            []client.ChatMessage
	loadingMessages bool
}

// NewChatView define a new ChatView. "messages" is the slot message sessions run
// in; "onChange" may be nil.
func NewChatView(
	messages *feed.Slot,
	messageFeed common.FeedPolicyConfig,
	isTerminal func(error) bool,
	onChange func(),
) *ChatView {
	return &ChatView{
		Component: common.Component{
			LogTags: log.Fields{"module": "views", "component": "chat"},
		},
		messages:   messages,
		feedConfig: messageFeed,
		isTerminal: isTerminal,
		onChange:   onChange,
		groups:     []client.ChatGroup{},
		msgs:       []client.ChatMessage{},
	}
}

func (v *ChatView) notify() {
	if v.onChange != nil {
		v.onChange()
	}
}

// GroupHandlers the feed handlers of the chat group feed
func (v *ChatView) GroupHandlers() feed.Handlers {
	return feed.Handlers{
		OnSnapshot: func(snapshot interface{}) {
			groups, ok := snapshot.([]client.ChatGroup)
			if !ok {
				log.WithFields(v.LogTags).Errorf("Unexpected snapshot type %T", snapshot)
				return
			}
			v.ApplyGroups(groups)
		},
	}
}

// ApplyGroups replace the group list. An active group missing from the new list is
// deselected.
func (v *ChatView) ApplyGroups(groups []client.ChatGroup) {
	v.switchLock.Lock()
	defer v.switchLock.Unlock()
	v.lock.Lock()
	v.groups = groups
	dropped := false
	if v.active != nil {
		if current, ok := findGroup(groups, v.active.ID); ok {
			v.active = &current
		} else {
			log.WithFields(v.LogTags).Infof("Active chat group %s is gone", v.active.ID)
			v.active = nil
			v.msgs = []client.ChatMessage{}
			v.loadingMessages = false
			dropped = true
		}
	}
	v.lock.Unlock()
	if dropped {
		v.messages.Close()
	}
	v.notify()
}

func findGroup(groups []client.ChatGroup, groupID string) (client.ChatGroup, bool) {
	for _, group := range groups {
		if group.ID == groupID {
			return group, true
		}
	}
	return client.ChatGroup{}, false
}

// Select make a known group the active one and start following its messages
func (v *ChatView) Select(groupID string) error {
	v.switchLock.Lock()
	defer v.switchLock.Unlock()
	v.lock.Lock()
	group, ok := findGroup(v.groups, groupID)
	if !ok {
		v.lock.Unlock()
		return fmt.Errorf("unknown chat group %s", groupID)
	}
	v.active = &group
	v.msgs = []client.ChatMessage{}
	v.loadingMessages = true
	v.lock.Unlock()

	_, err := v.messages.Switch(
		ChatMessagesFeed(v.feedConfig, groupID, v.isTerminal), v.messageHandlers(groupID),
	)
	if err != nil {
		log.WithError(err).WithFields(v.LogTags).Errorf("Unable to follow chat group %s", groupID)
		return err
	}
	v.notify()
	return nil
}

// Deselect clear the active group and stop following its messages
func (v *ChatView) Deselect() {
	v.switchLock.Lock()
	defer v.switchLock.Unlock()
	v.messages.Close()
	v.lock.Lock()
	v.active = nil
	v.msgs = []client.ChatMessage{}
	v.loadingMessages = false
	v.lock.Unlock()
	v.notify()
}

func (v *ChatView) messageHandlers(groupID string) feed.Handlers {
	return feed.Handlers{
		OnSnapshot: func(snapshot interface{}) {
			msgs, ok := snapshot.([]client.ChatMessage)
			if !ok {
				log.WithFields(v.LogTags).Errorf("Unexpected snapshot type %T", snapshot)
				return
			}
			v.lock.Lock()
			if v.active == nil || v.active.ID != groupID {
				v.lock.Unlock()
				return
			}
			v.msgs = msgs
			v.loadingMessages = false
			v.lock.Unlock()
			v.notify()
		},
		OnLoading: func(loading bool) {
			v.lock.Lock()
			changed := false
			if v.active != nil && v.active.ID == groupID && v.loadingMessages != loading {
				v.loadingMessages = loading
				changed = true
			}
			v.lock.Unlock()
			if changed {
				v.notify()
			}
		},
	}
}

// ApplyStatus record a status change made by this client on a group
func (v *ChatView) ApplyStatus(groupID, status string) {
	v.lock.Lock()
	for idx := range v.groups {
		if v.groups[idx].ID == groupID {
			v.groups[idx].Status = status
		}
	}
	if v.active != nil && v.active.ID == groupID {
		v.active.Status = status
	}
	v.lock.Unlock()
	v.notify()
}

// Groups the current group list
func (v *ChatView) Groups() []client.ChatGroup {
	v.lock.Lock()
	defer v.lock.Unlock()
	result := make([]client.ChatGroup, len(v.groups))
	copy(result, v.groups)
	return result
}

// Active the active group, if any
func (v *ChatView) Active() (client.ChatGroup, bool) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.active == nil {
		return client.ChatGroup{}, false
	}
	return *v.active, true
}

// Messages the messages of the active group
func (v *ChatView) Messages() []client.ChatMessage {
	v.lock.Lock()
	defer v.lock.Unlock()
	result := make([]client.ChatMessage, len(v.msgs))
	copy(result, v.msgs)
	return result
}

// LoadingMessages whether the messages of the active group are still loading
func (v *ChatView) LoadingMessages() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.loadingMessages
}

// CanWrite whether a message can be sent to the active group
func (v *ChatView) CanWrite() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.active != nil && !strings.EqualFold(v.active.Status, client.StatusClosed)
}
