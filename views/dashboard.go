package views

import (
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/feed"
)

// DashboardStats chat group counts per status
type DashboardStats struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
	Closed     int `json:"closed"`
}

// SolverLoad number of chat groups assigned to one solver
type SolverLoad struct {
	Email string `json:"email"`
	Tasks int    `json:"tasks"`
}

// ChartSlice one slice of the status distribution chart
type ChartSlice struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Chart the status distribution
func (s DashboardStats) Chart() []ChartSlice {
	return []ChartSlice{
		{Name: "Open", Value: s.Open},
		{Name: "In progress", Value: s.InProgress},
		{Name: "Resolved", Value: s.Resolved},
		{Name: "Closed", Value: s.Closed},
	}
}

// ==============================================================================

// DateRange is an inclusive range of whole days. A zero bound is open.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// NewDateRange define a range from the start of "start"'s day to the end of "end"'s
// day. Either may be zero.
func NewDateRange(start, end time.Time) DateRange {
	r := DateRange{}
	if !start.IsZero() {
		r.Start = startOfDay(start)
	}
	if !end.IsZero() {
		r.End = endOfDay(end)
	}
	return r
}

// PresetRange one of the preset ranges: "today", "7d", "month" or "all"
func PresetRange(preset string, now time.Time) (DateRange, error) {
	switch preset {
	case "today":
		return NewDateRange(now, now), nil
	case "7d":
		return NewDateRange(now.AddDate(0, 0, -6), now), nil
	case "month":
		year, month, _ := now.Date()
		first := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
		return NewDateRange(first, first.AddDate(0, 1, -1)), nil
	case "all", "":
		return DateRange{}, nil
	default:
		return DateRange{}, fmt.Errorf("unknown date range preset '%s'", preset)
	}
}

// Contains whether the instant falls within the range
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// FilterChats keep the chat groups whose PQR was created within the range. Groups
// without a parsable creation time are always excluded.
func FilterChats(chats []client.ChatGroup, r DateRange) []client.ChatGroup {
	filtered := []client.ChatGroup{}
	for _, chat := range chats {
		if chat.PQR == nil || chat.PQR.CreatedAt == "" {
			continue
		}
		createdAt, err := client.ParseTimestamp(chat.PQR.CreatedAt)
		if err != nil {
			continue
		}
		if !r.Start.IsZero() {
			createdAt = createdAt.In(r.Start.Location())
		} else if !r.End.IsZero() {
			createdAt = createdAt.In(r.End.Location())
		}
		if r.Contains(createdAt) {
			filtered = append(filtered, chat)
		}
	}
	return filtered
}

// ComputeStats count the chat groups per status
func ComputeStats(chats []client.ChatGroup) DashboardStats {
	stats := DashboardStats{Total: len(chats)}
	for _, chat := range chats {
		switch chat.Status {
		case client.StatusOpen:
			stats.Open++
		case client.StatusInProgress:
			stats.InProgress++
		case client.StatusResolved:
			stats.Resolved++
		case client.StatusClosed:
			stats.Closed++
		}
	}
	return stats
}

// SolverWorkload count the assignments per solver email, in order of first
// appearance
func SolverWorkload(chats []client.ChatGroup) []SolverLoad {
	loads := []SolverLoad{}
	index := map[string]int{}
	for _, chat := range chats {
		for _, assignment := range chat.Assignments {
			if assignment.SolverUser == nil || assignment.SolverUser.Email == "" {
				continue
			}
			email := assignment.SolverUser.Email
			if idx, ok := index[email]; ok {
				loads[idx].Tasks++
				continue
			}
			index[email] = len(loads)
			loads = append(loads, SolverLoad{Email: email, Tasks: 1})
		}
	}
	return loads
}

// ==============================================================================

// DashboardSummary is the rendered dashboard state
type DashboardSummary struct {
	Loading bool           `json:"loading"`
	Range   DateRange      `json:"range"`
	Stats   DashboardStats `json:"stats"`
	Chart   []ChartSlice   `json:"chart"`
	Solvers []SolverLoad   `json:"solvers"`
}

// DashboardView keeps the latest dashboard snapshot and derives the statistics
type DashboardView struct {
	common.Component
	lock     sync.Mutex
	chats    []client.ChatGroup
	loading  bool
	filter   DateRange
	onChange func(summary DashboardSummary)
}

// NewDashboardView define a new DashboardView. "onChange" is called with the new
// summary whenever it changes; it may be nil.
func NewDashboardView(onChange func(summary DashboardSummary)) *DashboardView {
	return &DashboardView{
		Component: common.Component{
			LogTags: log.Fields{"module": "views", "component": "dashboard"},
		},
		chats:    []client.ChatGroup{},
		loading:  true,
		onChange: onChange,
	}
}

// Handlers the feed handlers feeding this view
func (v *DashboardView) Handlers() feed.Handlers {
	return feed.Handlers{
		OnSnapshot: func(snapshot interface{}) {
			parsed, ok := snapshot.(*client.DashboardSnapshot)
			if !ok {
				log.WithFields(v.LogTags).Errorf("Unexpected snapshot type %T", snapshot)
				return
			}
			v.apply(parsed.Chats)
		},
		OnLoading: v.setLoading,
	}
}

func (v *DashboardView) apply(chats []client.ChatGroup) {
	v.lock.Lock()
	if chats == nil {
		chats = []client.ChatGroup{}
	}
	v.chats = chats
	v.loading = false
	summary := v.summarize()
	v.lock.Unlock()
	v.notify(summary)
}

func (v *DashboardView) setLoading(loading bool) {
	v.lock.Lock()
	v.loading = loading
	summary := v.summarize()
	v.lock.Unlock()
	v.notify(summary)
}

// SetRange change the date filter
func (v *DashboardView) SetRange(r DateRange) {
	v.lock.Lock()
	v.filter = r
	summary := v.summarize()
	v.lock.Unlock()
	v.notify(summary)
}

// Summary the current dashboard state
func (v *DashboardView) Summary() DashboardSummary {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.summarize()
}

// summarize must hold the lock
func (v *DashboardView) summarize() DashboardSummary {
	filtered := FilterChats(v.chats, v.filter)
	stats := ComputeStats(filtered)
	return DashboardSummary{
		Loading: v.loading,
		Range:   v.filter,
		Stats:   stats,
		Chart:   stats.Chart(),
		Solvers: SolverWorkload(filtered),
	}
}

func (v *DashboardView) notify(summary DashboardSummary) {
	if v.onChange != nil {
		v.onChange(summary)
	}
}
