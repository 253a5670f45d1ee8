package views

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/feed"
	"github.com/stretchr/testify/assert"
)

func chatGroup(id, status, createdAt string, solvers ...string) client.ChatGroup {
	group := client.ChatGroup{
		ID:     id,
		Status: status,
		PQR:    &client.PQR{ID: "p-" + id, CreatedAt: createdAt, Priority: client.PriorityLow},
	}
	for _, email := range solvers {
		group.Assignments = append(group.Assignments, client.Assignment{
			SolverUserID: "s-" + email,
			SolverUser:   &client.User{ID: "s-" + email, Email: email},
		})
	}
	return group
}

func TestDecoders(t *testing.T) {
	assert := assert.New(t)

	// Stream shape
	value, err := DecodeDashboard([]byte(`{"chats":[{"id":"1","status":"OPEN"}]}`))
	assert.Nil(err)
	snapshot, ok := value.(*client.DashboardSnapshot)
	assert.True(ok)
	assert.Len(snapshot.Chats, 1)
	assert.Equal("OPEN", snapshot.Chats[0].Status)

	// Pull shape
	value, err = DecodeDashboard([]byte(`[{"id":"1"},{"id":"2"}]`))
	assert.Nil(err)
	assert.Len(value.(*client.DashboardSnapshot).Chats, 2)

	// Missing chats
	value, err = DecodeDashboard([]byte(`{}`))
	assert.Nil(err)
	assert.NotNil(value.(*client.DashboardSnapshot).Chats)
	assert.Len(value.(*client.DashboardSnapshot).Chats, 0)

	_, err = DecodeDashboard([]byte(`{"chats":`))
	assert.NotNil(err)
	_, err = DecodeDashboard([]byte(`  `))
	assert.NotNil(err)

	value, err = DecodeChatGroups([]byte(`[{"id":"g1","status":"CLOSED"}]`))
	assert.Nil(err)
	assert.Equal("CLOSED", value.([]client.ChatGroup)[0].Status)

	value, err = DecodeChatMessages([]byte(`[{"id":"m1","chat_group_id":"g1","content":"hi"}]`))
	assert.Nil(err)
	assert.Equal("hi", value.([]client.ChatMessage)[0].Content)
	_, err = DecodeChatMessages([]byte(`{"id":"m1"}`))
	assert.NotNil(err)

	value, err = DecodeAssignmentBoard([]byte(`{"solvers":[{"id":"s1"}]}`))
	assert.Nil(err)
	board := value.(*client.AssignmentBoard)
	assert.Nil(board.Groups)
	assert.Len(board.Solvers, 1)
}

func TestFeedDefinitions(t *testing.T) {
	assert := assert.New(t)

	config := common.FeedPolicyConfig{
		PollPath:          "/chat/messages",
		PollInterval:      1500,
		ChainedPoll:       true,
		ReconnectStep:     1500,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       1200,
	}
	messages := ChatMessagesFeed(config, "g 1", client.IsUnauthorized)
	assert.Equal("chat-messages/g 1", messages.Key.Name)
	assert.Equal("/chat/messages?groupId=g+1", messages.Key.PollPath)
	assert.Equal("", messages.Key.StreamPath)
	assert.True(messages.Policy.ChainedPoll)
	assert.Equal(time.Millisecond*1500, messages.Policy.PollInterval)
	assert.True(messages.Policy.IsTerminal(&client.APIError{StatusCode: 401}))

	config.StreamPath = "/dashboard/stream"
	config.PollPath = "/chat/groups-with-details"
	dashboard := DashboardFeed(config, nil)
	assert.Equal(DashboardFeedName, dashboard.Key.Name)
	assert.Equal("/dashboard/stream", dashboard.Key.StreamPath)
	assert.Nil(dashboard.Policy.IsTerminal)
}

func TestDateRanges(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	today, err := PresetRange("today", now)
	assert.Nil(err)
	assert.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), today.Start)
	assert.True(today.Contains(time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)))
	assert.False(today.Contains(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)))

	week, err := PresetRange("7d", now)
	assert.Nil(err)
	assert.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), week.Start)

	month, err := PresetRange("month", now)
	assert.Nil(err)
	assert.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), month.Start)
	assert.True(month.Contains(time.Date(2024, 3, 31, 22, 0, 0, 0, time.UTC)))
	assert.False(month.Contains(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))

	all, err := PresetRange("all", now)
	assert.Nil(err)
	assert.True(all.Contains(time.Time{}))

	_, err = PresetRange("fortnight", now)
	assert.NotNil(err)
}

func TestDashboardDerivations(t *testing.T) {
	assert := assert.New(t)

	chats := []client.ChatGroup{
		chatGroup("1", client.StatusOpen, "2024-03-01T08:00:00Z", "a@x.co"),
		chatGroup("2", client.StatusInProgress, "2024-03-02T23:30:00Z", "a@x.co", "b@x.co"),
		chatGroup("3", client.StatusResolved, "2024-03-03", "b@x.co"),
		chatGroup("4", client.StatusClosed, "2024-03-04T10:00:00Z"),
		chatGroup("5", client.StatusOpen, ""),
		{ID: "6", Status: client.StatusOpen},
	}

	// Groups without a creation time never count
	all := FilterChats(chats, DateRange{})
	assert.Len(all, 4)
	stats := ComputeStats(all)
	assert.Equal(DashboardStats{Total: 4, Open: 1, InProgress: 1, Resolved: 1, Closed: 1}, stats)
	assert.Equal([]ChartSlice{
		{Name: "Open", Value: 1},
		{Name: "In progress", Value: 1},
		{Name: "Resolved", Value: 1},
		{Name: "Closed", Value: 1},
	}, stats.Chart())
	assert.Equal(
		[]SolverLoad{{Email: "a@x.co", Tasks: 2}, {Email: "b@x.co", Tasks: 2}},
		SolverWorkload(all),
	)

	// Inclusive day bounds
	window := NewDateRange(
		time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), time.Date(2024, 3, 3, 1, 0, 0, 0, time.UTC),
	)
	inWindow := FilterChats(chats, window)
	assert.Len(inWindow, 2)
	assert.Equal("2", inWindow[0].ID)
	assert.Equal("3", inWindow[1].ID)
	assert.Equal(
		[]SolverLoad{{Email: "a@x.co", Tasks: 1}, {Email: "b@x.co", Tasks: 2}},
		SolverWorkload(inWindow),
	)

	// Open ended ranges
	assert.Len(FilterChats(chats, NewDateRange(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), time.Time{})), 2)
	assert.Len(FilterChats(chats, NewDateRange(time.Time{}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))), 1)
}

func TestDashboardView(t *testing.T) {
	assert := assert.New(t)

	var lock sync.Mutex
	var summaries []DashboardSummary
	uut := NewDashboardView(func(summary DashboardSummary) {
		lock.Lock()
		defer lock.Unlock()
		summaries = append(summaries, summary)
	})
	assert.True(uut.Summary().Loading)

	handlers := uut.Handlers()
	handlers.OnSnapshot(&client.DashboardSnapshot{Chats: []client.ChatGroup{
		chatGroup("1", client.StatusOpen, "2024-03-01T08:00:00Z", "a@x.co"),
		chatGroup("2", client.StatusClosed, "2024-03-05T08:00:00Z"),
	}})
	summary := uut.Summary()
	assert.False(summary.Loading)
	assert.Equal(2, summary.Stats.Total)
	assert.Equal([]SolverLoad{{Email: "a@x.co", Tasks: 1}}, summary.Solvers)

	// A failed fetch keeps the previous data
	handlers.OnLoading(false)
	assert.Equal(2, uut.Summary().Stats.Total)

	uut.SetRange(NewDateRange(
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	))
	summary = uut.Summary()
	assert.Equal(DashboardStats{Total: 1, Closed: 1}, summary.Stats)
	assert.Len(summary.Solvers, 0)

	// Empty snapshot
	handlers.OnSnapshot(&client.DashboardSnapshot{})
	assert.Equal(0, uut.Summary().Stats.Total)

	lock.Lock()
	assert.Len(summaries, 4)
	lock.Unlock()
}

func TestBadges(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("success", StatusBadge("open"))
	assert.Equal("warning", StatusBadge(client.StatusInProgress))
	assert.Equal("info", StatusBadge(client.StatusResolved))
	assert.Equal("error", StatusBadge(client.StatusClosed))
	assert.Equal("default", StatusBadge(""))
	assert.Equal("error", PriorityBadge("HIGH"))
	assert.Equal("warning", PriorityBadge("medium"))
	assert.Equal("success", PriorityBadge(client.PriorityLow))
	assert.Equal("default", PriorityBadge("urgent"))
}

// pathFetcher answers pulls with a fixed body per path prefix
type pathFetcher struct {
	lock   sync.Mutex
	bodies map[string]string
	calls  map[string]int
}

func (f *pathFetcher) Fetch(_ context.Context, path string) ([]byte, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls[path]++
	for prefix, body := range f.bodies {
		if strings.HasPrefix(path, prefix) {
			return []byte(body), nil
		}
	}
	return nil, fmt.Errorf("no body for %s", path)
}

func (f *pathFetcher) count(path string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[path]
}

func TestChatView(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &pathFetcher{
		bodies: map[string]string{
			"/chat/messages?groupId=g1": `[{"id":"m1","chat_group_id":"g1","content":"hello"}]`,
			"/chat/messages?groupId=g2": `[{"id":"m2","chat_group_id":"g2","content":"bye"}]`,
		},
		calls: map[string]int{},
	}
	controller, err := feed.NewController(ctxt, nil, fetcher, &wg)
	assert.Nil(err)
	slot := feed.NewSlot(controller)
	defer slot.Close()

	config := common.FeedPolicyConfig{
		PollPath:          "/chat/messages",
		PollInterval:      20,
		ChainedPoll:       true,
		ReconnectStep:     20,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       10,
	}
	uut := NewChatView(slot, config, nil, nil)
	assert.False(uut.CanWrite())
	assert.NotNil(uut.Select("g1"))

	uut.GroupHandlers().OnSnapshot([]client.ChatGroup{
		{ID: "g1", Status: client.StatusOpen},
		{ID: "g2", Status: client.StatusClosed},
	})
	assert.Len(uut.Groups(), 2)

	assert.Nil(uut.Select("g1"))
	assert.True(uut.CanWrite())
	assert.Eventually(func() bool {
		msgs := uut.Messages()
		return len(msgs) == 1 && msgs[0].Content == "hello"
	}, time.Second*2, time.Millisecond*5)
	assert.False(uut.LoadingMessages())
	first := slot.Current()

	// Switching groups cancels the previous message session
	assert.Nil(uut.Select("g2"))
	assert.True(first.Status().Cancelled)
	assert.False(uut.CanWrite())
	assert.Eventually(func() bool {
		msgs := uut.Messages()
		return len(msgs) == 1 && msgs[0].Content == "bye"
	}, time.Second*2, time.Millisecond*5)
	g1Calls := fetcher.count("/chat/messages?groupId=g1")
	time.Sleep(time.Millisecond * 80)
	assert.Equal(g1Calls, fetcher.count("/chat/messages?groupId=g1"))

	// Status change on the active group
	uut.ApplyStatus("g2", client.StatusOpen)
	assert.True(uut.CanWrite())
	active, ok := uut.Active()
	assert.True(ok)
	assert.Equal(client.StatusOpen, active.Status)

	// The active group disappears
	second := slot.Current()
	uut.GroupHandlers().OnSnapshot([]client.ChatGroup{{ID: "g1", Status: client.StatusOpen}})
	_, ok = uut.Active()
	assert.False(ok)
	assert.Len(uut.Messages(), 0)
	assert.True(second.Status().Cancelled)
	assert.Nil(slot.Current())
	assert.False(uut.CanWrite())

	assert.Nil(uut.Select("g1"))
	uut.Deselect()
	assert.Nil(slot.Current())
}

func TestAssignView(t *testing.T) {
	assert := assert.New(t)

	changes := 0
	uut := NewAssignView(func() { changes++ })
	handlers := uut.Handlers()

	handlers.OnSnapshot(&client.AssignmentBoard{
		Groups:  []client.ChatGroup{chatGroup("g1", client.StatusOpen, "", "a@x.co")},
		Solvers: []client.User{{ID: "s-a@x.co", Email: "a@x.co"}, {ID: "s-b@x.co", Email: "b@x.co"}},
	})
	assert.Len(uut.Groups(), 1)
	assert.Len(uut.Solvers(), 2)
	assert.Equal([]client.User{{ID: "s-b@x.co", Email: "b@x.co"}}, uut.AvailableSolvers("g1"))
	assert.Len(uut.AvailableSolvers("unknown"), 2)

	// Partial update only replaces what is present
	handlers.OnSnapshot(&client.AssignmentBoard{Solvers: []client.User{{ID: "s-c", Email: "c@x.co"}}})
	assert.Len(uut.Groups(), 1)
	assert.Equal("c@x.co", uut.Solvers()[0].Email)

	handlers.OnSnapshot(&client.AssignmentBoard{Groups: []client.ChatGroup{}})
	assert.Len(uut.Groups(), 0)
	assert.Len(uut.Solvers(), 1)
	assert.Equal(3, changes)
}

// idleFetcher never answers until the pull is abandoned
type idleFetcher struct{}

func (idleFetcher) Fetch(ctxt context.Context, _ string) ([]byte, error) {
	<-ctxt.Done()
	return nil, ctxt.Err()
}

func TestChatViewLoadingNotifies(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller, err := feed.NewController(ctxt, nil, idleFetcher{}, &wg)
	assert.Nil(err)
	slot := feed.NewSlot(controller)
	defer slot.Close()

	var changes int32
	config := common.FeedPolicyConfig{
		PollPath:          "/chat/messages",
		PollInterval:      20,
		ChainedPoll:       true,
		ReconnectStep:     20,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       10,
	}
	uut := NewChatView(slot, config, nil, func() { atomic.AddInt32(&changes, 1) })
	uut.ApplyGroups([]client.ChatGroup{{ID: "g1", Status: client.StatusOpen}})
	assert.Nil(uut.Select("g1"))
	assert.True(uut.LoadingMessages())
	seen := atomic.LoadInt32(&changes)

	handlers := uut.messageHandlers("g1")
	handlers.OnLoading(false)
	assert.False(uut.LoadingMessages())
	assert.Equal(seen+1, atomic.LoadInt32(&changes))

	// No change, no notification
	handlers.OnLoading(false)
	assert.Equal(seen+1, atomic.LoadInt32(&changes))

	// Signals of a group no longer active are ignored
	uut.messageHandlers("g2").OnLoading(true)
	assert.False(uut.LoadingMessages())
	assert.Equal(seen+1, atomic.LoadInt32(&changes))
}

func TestChatViewDropRacesSelect(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller, err := feed.NewController(ctxt, nil, idleFetcher{}, &wg)
	assert.Nil(err)
	slot := feed.NewSlot(controller)
	defer slot.Close()

	config := common.FeedPolicyConfig{
		PollPath:          "/chat/messages",
		PollInterval:      20,
		ChainedPoll:       true,
		ReconnectStep:     20,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       10,
	}
	uut := NewChatView(slot, config, nil, nil)
	for round := 0; round < 100; round++ {
		uut.ApplyGroups([]client.ChatGroup{{ID: "g1"}, {ID: "g2"}})
		assert.Nil(uut.Select("g2"))

		// Drop the active group while another group gets selected
		start := make(chan struct{})
		finished := sync.WaitGroup{}
		finished.Add(2)
		go func() {
			defer finished.Done()
			<-start
			uut.ApplyGroups([]client.ChatGroup{{ID: "g1"}})
		}()
		go func() {
			defer finished.Done()
			<-start
			assert.Nil(uut.Select("g1"))
		}()
		close(start)
		finished.Wait()

		// Whatever the order, g1 is active and followed by a live session
		active, ok := uut.Active()
		assert.True(ok, "round %d", round)
		assert.Equal("g1", active.ID, "round %d", round)
		current := slot.Current()
		if !assert.NotNil(current, "round %d", round) {
			return
		}
		assert.False(current.Status().Cancelled, "round %d", round)
		assert.Equal("chat-messages/g1", current.Key().Name, "round %d", round)
	}
}

func TestAssignmentBoardFetcher(t *testing.T) {
	assert := assert.New(t)

	fetcher := &pathFetcher{
		bodies: map[string]string{
			"/chat/groups-with-details": `[{"id":"g1","status":"OPEN"}]`,
			"/assignments/solvers":      `[]`,
		},
		calls: map[string]int{},
	}
	uut := NewAssignmentBoardFetcher(fetcher, client.SolversPath)
	raw, err := uut.Fetch(context.Background(), "/chat/groups-with-details")
	assert.Nil(err)
	assert.Contains(string(raw), `"solvers":[]`)
	decoded, err := DecodeAssignmentBoard(raw)
	assert.Nil(err)
	board := decoded.(*client.AssignmentBoard)
	assert.Len(board.Groups, 1)
	// An empty solver list is still a full replacement
	assert.NotNil(board.Solvers)
	assert.Len(board.Solvers, 0)

	// Either pull failing fails the board
	_, err = uut.Fetch(context.Background(), "/missing")
	assert.NotNil(err)
	broken := NewAssignmentBoardFetcher(fetcher, "/nowhere")
	_, err = broken.Fetch(context.Background(), "/chat/groups-with-details")
	assert.NotNil(err)
	_, err = NewAssignmentBoardFetcher(nil, client.SolversPath).Fetch(context.Background(), "/x")
	assert.NotNil(err)
}

func TestAssignmentsFeedAgainstBackendRoutes(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only the routes the PQR backend exposes; no board end-point, no stream
	routes := http.NewServeMux()
	routes.HandleFunc("/api/chat/groups-with-details", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"g1","status":"OPEN","assignments":[]},{"id":"g2","status":"CLOSED"}]`)
	})
	routes.HandleFunc("/api/assignments/solvers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"s1","email":"solver@pqr.local","role":"Solver"}]`)
	})
	server := httptest.NewServer(routes)
	defer server.Close()

	rc, err := client.NewRequestClient(
		common.BackendConfig{BaseURL: server.URL, APIPrefix: "/api", RequestTimeout: 5},
		auth.NewMemoryCredentialStore("token"),
	)
	assert.Nil(err)
	controller, err := feed.NewController(ctxt, feed.NewSSETransport(rc, &wg), rc, &wg)
	assert.Nil(err)

	config := common.FeedPolicyConfig{
		StreamPath:        "/assignments/stream",
		PollPath:          "/chat/groups-with-details",
		PollInterval:      20,
		ReconnectStep:     10,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       10,
	}
	board := NewAssignView(nil)
	session, err := controller.Start(AssignmentsFeed(config, rc, client.IsUnauthorized), board.Handlers())
	assert.Nil(err)
	defer session.Cancel()

	assert.Eventually(func() bool {
		return len(board.Groups()) == 2 && len(board.Solvers()) == 1
	}, time.Second*2, time.Millisecond*10)
	assert.Equal(feed.ModePoll, session.Status().Mode)
	assert.Equal("solver@pqr.local", board.Solvers()[0].Email)
	assert.Len(board.AvailableSolvers("g1"), 1)
}
