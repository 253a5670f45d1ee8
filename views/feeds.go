// Package views binds live feed snapshots to the state the CLI renders
package views

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/feed"
)

// Feed names
const (
	DashboardFeedName    = "dashboard"
	ChatGroupsFeedName   = "chat-groups"
	ChatMessagesFeedName = "chat-messages"
	AssignmentsFeedName  = "assignments"
)

func defineFeed(
	name string, config common.FeedPolicyConfig, isTerminal func(error) bool, decoder feed.Decoder,
) feed.Feed {
	policy := feed.PolicyFromConfig(config)
	policy.IsTerminal = isTerminal
	return feed.Feed{
		Key: feed.ResourceKey{
			Name: name, StreamPath: config.StreamPath, PollPath: config.PollPath,
		},
		Policy:  policy,
		Decoder: decoder,
	}
}

// DashboardFeed define the dashboard feed. Snapshots are *client.DashboardSnapshot.
func DashboardFeed(config common.FeedPolicyConfig, isTerminal func(error) bool) feed.Feed {
	return defineFeed(DashboardFeedName, config, isTerminal, DecodeDashboard)
}

// ChatGroupsFeed define the chat group list feed. Snapshots are []client.ChatGroup.
func ChatGroupsFeed(config common.FeedPolicyConfig, isTerminal func(error) bool) feed.Feed {
	return defineFeed(ChatGroupsFeedName, config, isTerminal, DecodeChatGroups)
}

// ChatMessagesFeed define the message feed of one chat group. The config poll path
// is the base path. Snapshots are []client.ChatMessage.
func ChatMessagesFeed(
	config common.FeedPolicyConfig, groupID string, isTerminal func(error) bool,
) feed.Feed {
	perGroup := config
	perGroup.PollPath = client.ChatMessagesPath(config.PollPath, groupID)
	if config.StreamPath != "" {
		perGroup.StreamPath = client.ChatMessagesPath(config.StreamPath, groupID)
	}
	return defineFeed(
		fmt.Sprintf("%s/%s", ChatMessagesFeedName, groupID), perGroup, isTerminal, DecodeChatMessages,
	)
}

// AssignmentsFeed define the assignment board feed. Snapshots are
// *client.AssignmentBoard. The backend has no board pull end-point, so pulls go
// through an AssignmentBoardFetcher over "fetcher", with the config poll path
// naming the chat group list.
func AssignmentsFeed(
	config common.FeedPolicyConfig, fetcher feed.Fetcher, isTerminal func(error) bool,
) feed.Feed {
	result := defineFeed(AssignmentsFeedName, config, isTerminal, DecodeAssignmentBoard)
	result.Fetcher = NewAssignmentBoardFetcher(fetcher, client.SolversPath)
	return result
}

// AssignmentBoardFetcher pulls a full assignment board by combining the chat group
// list with the solver list
type AssignmentBoardFetcher struct {
	fetcher     feed.Fetcher
	solversPath string
}

// NewAssignmentBoardFetcher define a new AssignmentBoardFetcher
func NewAssignmentBoardFetcher(fetcher feed.Fetcher, solversPath string) *AssignmentBoardFetcher {
	return &AssignmentBoardFetcher{fetcher: fetcher, solversPath: solversPath}
}

// Fetch pull the chat groups at "path" and the solvers, and return them as one
// board payload. Either pull failing fails the whole board.
func (f *AssignmentBoardFetcher) Fetch(ctxt context.Context, path string) ([]byte, error) {
	if f.fetcher == nil {
		return nil, fmt.Errorf("no fetcher for the assignment board")
	}
	rawGroups, err := f.fetcher.Fetch(ctxt, path)
	if err != nil {
		return nil, err
	}
	groups, err := decodeGroupList(rawGroups)
	if err != nil {
		return nil, fmt.Errorf("chat groups: %w", err)
	}
	rawSolvers, err := f.fetcher.Fetch(ctxt, f.solversPath)
	if err != nil {
		return nil, err
	}
	solvers := []client.User{}
	if err := json.Unmarshal(rawSolvers, &solvers); err != nil {
		return nil, fmt.Errorf("solvers: %w", err)
	}
	if solvers == nil {
		solvers = []client.User{}
	}
	// Both lists are always present, empty or not
	return json.Marshal(struct {
		Groups  []client.ChatGroup `json:"groups"`
		Solvers []client.User      `json:"solvers"`
	}{Groups: groups, Solvers: solvers})
}

// ==============================================================================
// Decoders

// decodeGroupList parse either a bare group array or an object carrying the groups
// under "chats"
func decodeGroupList(raw []byte) ([]client.ChatGroup, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	groups := []client.ChatGroup{}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &groups); err != nil {
			return nil, err
		}
		return groups, nil
	}
	var wrapped client.DashboardSnapshot
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Chats != nil {
		groups = wrapped.Chats
	}
	return groups, nil
}

// DecodeDashboard parse a dashboard payload. The stream sends {"chats":[...]} while
// the pull end-point returns the bare group list; both are accepted. Missing chats
// decode as an empty list.
func DecodeDashboard(raw []byte) (interface{}, error) {
	groups, err := decodeGroupList(raw)
	if err != nil {
		return nil, err
	}
	return &client.DashboardSnapshot{Chats: groups}, nil
}

// DecodeChatGroups parse a chat group list payload
func DecodeChatGroups(raw []byte) (interface{}, error) {
	return decodeGroupList(raw)
}

// DecodeChatMessages parse a chat message list payload
func DecodeChatMessages(raw []byte) (interface{}, error) {
	msgs := []client.ChatMessage{}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DecodeAssignmentBoard parse an assignment board payload
func DecodeAssignmentBoard(raw []byte) (interface{}, error) {
	board := &client.AssignmentBoard{}
	if err := json.Unmarshal(raw, board); err != nil {
		return nil, err
	}
	return board, nil
}
