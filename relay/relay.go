// Package relay republishes accepted live feed snapshots onto NATS subjects
package relay

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/pqrdesk/pqrclient/feed"
)

// Publisher publishes one message on a subject
type Publisher interface {
	Publish(subject string, data []byte) error
}

// SnapshotRelay is a feed.SnapshotObserver publishing every snapshot it sees on
// "<prefix>.<feed name>"
type SnapshotRelay struct {
	common.Component
	publisher Publisher
	prefix    string
	published uint64
	failed    uint64
}

// NewSnapshotRelay define a new SnapshotRelay
func NewSnapshotRelay(publisher Publisher, subjectPrefix string) (*SnapshotRelay, error) {
	if publisher == nil {
		return nil, fmt.Errorf("no publisher provided")
	}
	prefix := strings.Trim(subjectPrefix, ".")
	if prefix == "" {
		return nil, fmt.Errorf("subject prefix is required")
	}
	return &SnapshotRelay{
		Component: common.Component{
			LogTags: log.Fields{"module": "relay", "component": "snapshot-relay", "instance": prefix},
		},
		publisher: publisher,
		prefix:    prefix,
	}, nil
}

var subjectReplacer = strings.NewReplacer(
	"/", ".", " ", "_", "\t", "_", "*", "_", ">", "_",
)

// SubjectFor the subject snapshots of a feed are published on
func SubjectFor(prefix, feedName string) string {
	tokens := []string{}
	for _, token := range strings.Split(subjectReplacer.Replace(feedName), ".") {
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return strings.Join(append([]string{prefix}, tokens...), ".")
}

// ObserveSnapshot publish the raw snapshot
func (r *SnapshotRelay) ObserveSnapshot(key feed.ResourceKey, raw []byte, _ interface{}) {
	subject := SubjectFor(r.prefix, key.Name)
	if err := r.publisher.Publish(subject, raw); err != nil {
		atomic.AddUint64(&r.failed, 1)
		log.WithError(err).WithFields(r.LogTags).Warnf("Unable to relay snapshot on %s", subject)
		return
	}
	atomic.AddUint64(&r.published, 1)
	log.WithFields(r.LogTags).Debugf("Relayed %d bytes on %s", len(raw), subject)
}

// Stats number of snapshots published, and failed to publish
func (r *SnapshotRelay) Stats() (published uint64, failed uint64) {
	return atomic.LoadUint64(&r.published), atomic.LoadUint64(&r.failed)
}
