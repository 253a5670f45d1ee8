package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/core"
	"github.com/pqrdesk/pqrclient/feed"
	"github.com/pqrdesk/pqrclient/relay"
	"github.com/pqrdesk/pqrclient/views"
)

// liveFeeds the feed controller of a watch command, plus the optional NATS relay
type liveFeeds struct {
	controller *feed.Controller
	nats       *core.NatsClient
	relay      *relay.SnapshotRelay
}

// startLiveFeeds define the feed controller over the command's request client
func startLiveFeeds(
	ctxt context.Context, cc *ClientContext, wg *sync.WaitGroup,
) (*liveFeeds, error) {
	var transport feed.StreamTransport
	if cc.Config.Backend.StreamTransport == common.StreamTransportWebSocket {
		transport = feed.NewWebSocketTransport(
			cc.Client, time.Second*time.Duration(cc.Config.Backend.StreamIdleTimeout), wg,
		)
	} else {
		transport = feed.NewSSETransport(cc.Client, wg)
	}
	controller, err := feed.NewController(ctxt, transport, cc.Client, wg)
	if err != nil {
		log.WithError(err).WithFields(cc.LogTags).Error("Unable to define feed controller")
		return nil, err
	}
	result := &liveFeeds{controller: controller}
	relayCfg := cc.Config.Relay
	if relayCfg == nil || !relayCfg.Enabled {
		return result, nil
	}
	natsClient, err := core.GetNatsClient(core.ConnectParamsFromConfig(relayCfg.NATS))
	if err != nil {
		log.WithError(err).WithFields(cc.LogTags).Errorf(
			"Failed to define NATS client with %s", relayCfg.NATS.ServerURI,
		)
		return nil, err
	}
	snapshotRelay, err := relay.NewSnapshotRelay(natsClient, relayCfg.SubjectPrefix)
	if err != nil {
		natsClient.Close(ctxt)
		return nil, err
	}
	controller.AddObserver(snapshotRelay)
	result.nats = &natsClient
	result.relay = snapshotRelay
	log.WithFields(cc.LogTags).Infof("Relaying snapshots under %s", relayCfg.SubjectPrefix)
	return result, nil
}

// close release the relay connection
func (l *liveFeeds) close() {
	if l.nats == nil {
		return
	}
	published, failed := l.relay.Stats()
	log.Infof("Relay published %d snapshots, %d failed", published, failed)
	ctxt, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	l.nats.Close(ctxt)
}

// changeSignal coalesces view change notifications for the watching goroutine
type changeSignal chan struct{}

func newChangeSignal() changeSignal {
	return make(changeSignal, 1)
}

func (c changeSignal) notify() {
	select {
	case c <- struct{}{}:
	default:
	}
}

// watchLoop call "onChange" on the command goroutine for every change, until the
// context ends or one of the sessions terminates. A session ending on a terminal
// failure is returned as the error.
func watchLoop(
	ctxt context.Context,
	cc *ClientContext,
	changes changeSignal,
	onChange func() error,
	sessions ...*feed.Session,
) error {
	done := make(chan struct{})
	var once sync.Once
	for _, session := range sessions {
		go func(session *feed.Session) {
			select {
			case <-session.Done():
				once.Do(func() { close(done) })
			case <-ctxt.Done():
			}
		}(session)
	}
	for {
		select {
		case <-ctxt.Done():
			return nil
		case <-done:
			return sessionFailure(cc, sessions)
		case <-changes:
			if err := onChange(); err != nil {
				return err
			}
		}
	}
}

// sessionFailure the error which ended one of the sessions, if any. A rejected
// session token is cleared.
func sessionFailure(cc *ClientContext, sessions []*feed.Session) error {
	for _, session := range sessions {
		err := session.Err()
		if err == nil {
			continue
		}
		if client.IsUnauthorized(err) {
			log.WithFields(cc.LogTags).Warn("Session token rejected, clearing it")
			if clearErr := cc.Client.Logout(); clearErr != nil {
				log.WithError(clearErr).WithFields(cc.LogTags).Error("Unable to clear token")
			}
		}
		return fmt.Errorf("live feed %s ended: %w", session.Key(), err)
	}
	return nil
}

// =======================================================================

// RunDashboardWatch follow the dashboard feed and print the summary on every change
func RunDashboardWatch(
	ctxt context.Context, cc *ClientContext, wg *sync.WaitGroup, rangePreset string,
) error {
	if _, err := cc.RequireRoles(ctxt, auth.FeedRoles...); err != nil {
		return err
	}
	dateRange, err := views.PresetRange(rangePreset, time.Now())
	if err != nil {
		return err
	}
	feeds, err := startLiveFeeds(ctxt, cc, wg)
	if err != nil {
		return err
	}
	defer feeds.close()

	changes := newChangeSignal()
	dashboard := views.NewDashboardView(func(views.DashboardSummary) { changes.notify() })
	dashboard.SetRange(dateRange)
	session, err := feeds.controller.Start(
		views.DashboardFeed(cc.Config.Feeds.Dashboard, client.IsUnauthorized), dashboard.Handlers(),
	)
	if err != nil {
		return err
	}
	defer session.Cancel()

	return watchLoop(ctxt, cc, changes, func() error {
		return cc.Printer.Print(dashboard.Summary())
	}, session)
}

// ChatState is what the chat watch prints
type ChatState struct {
	Group    *client.ChatGroup    `json:"group,omitempty"`
	Badge    string               `json:"badge,omitempty"`
	CanWrite bool                 `json:"can_write"`
	Loading  bool                 `json:"loading"`
	Messages []client.ChatMessage `json:"messages"`
}

// RunChatWatch follow the chat group list and the messages of one group
func RunChatWatch(
	ctxt context.Context, cc *ClientContext, wg *sync.WaitGroup, groupID string,
) error {
	if _, err := cc.RequireRoles(ctxt); err != nil {
		return err
	}
	feeds, err := startLiveFeeds(ctxt, cc, wg)
	if err != nil {
		return err
	}
	defer feeds.close()

	slot := feed.NewSlot(feeds.controller)
	defer slot.Close()
	changes := newChangeSignal()
	chat := views.NewChatView(
		slot, cc.Config.Feeds.ChatMessages, client.IsUnauthorized, changes.notify,
	)
	groups, err := feeds.controller.Start(
		views.ChatGroupsFeed(cc.Config.Feeds.ChatGroups, client.IsUnauthorized),
		chat.GroupHandlers(),
	)
	if err != nil {
		return err
	}
	defer groups.Cancel()

	selected := false
	return watchLoop(ctxt, cc, changes, func() error {
		active, ok := chat.Active()
		if !ok {
			if selected {
				log.WithFields(cc.LogTags).Warnf("Chat group %s is no longer visible", groupID)
				return nil
			}
			if err := chat.Select(groupID); err != nil {
				// The group list may not have arrived yet
				log.WithError(err).WithFields(cc.LogTags).Debug("Chat group not selectable yet")
				return nil
			}
			selected = true
			return nil
		}
		return cc.Printer.Print(ChatState{
			Group:    &active,
			Badge:    views.StatusBadge(active.Status),
			CanWrite: chat.CanWrite(),
			Loading:  chat.LoadingMessages(),
			Messages: chat.Messages(),
		})
	}, groups)
}

// RunAssignWatch follow the assignment board
func RunAssignWatch(ctxt context.Context, cc *ClientContext, wg *sync.WaitGroup) error {
	if _, err := cc.RequireRoles(ctxt, auth.AdminRoles...); err != nil {
		return err
	}
	feeds, err := startLiveFeeds(ctxt, cc, wg)
	if err != nil {
		return err
	}
	defer feeds.close()

	changes := newChangeSignal()
	board := views.NewAssignView(changes.notify)
	session, err := feeds.controller.Start(
		views.AssignmentsFeed(cc.Config.Feeds.Assignments, cc.Client, client.IsUnauthorized),
		board.Handlers(),
	)
	if err != nil {
		return err
	}
	defer session.Cancel()

	return watchLoop(ctxt, cc, changes, func() error {
		return cc.Printer.Print(client.AssignmentBoard{
			Groups: board.Groups(), Solvers: board.Solvers(),
		})
	}, session)
}
