package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/spawnpool/internal/core/system"
	"github.com/l1jgo/spawnpool/internal/netspawn"
)

// ReplicationSystem drains the authoritative manager's outbound messages
// and applies them to every in-process client replica.
// Phase Output.
type ReplicationSystem struct {
	source   *netspawn.Manager
	replicas []*netspawn.Manager
	log      *zap.Logger
	sent     uint64
}

func NewReplicationSystem(source *netspawn.Manager, replicas []*netspawn.Manager, log *zap.Logger) *ReplicationSystem {
	return &ReplicationSystem{source: source, replicas: replicas, log: log}
}

func (s *ReplicationSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

// Sent returns the number of messages drained so far.
func (s *ReplicationSystem) Sent() uint64 { return s.sent }

func (s *ReplicationSystem) Update(_ time.Duration) {
	n := s.source.Drain(func(msg netspawn.Message) {
		for i, r := range s.replicas {
			if err := r.Apply(msg); err != nil {
				s.log.Warn("replication failed",
					zap.Int("replica", i),
					zap.Stringer("kind", msg.Kind),
					zap.Uint64("network_id", msg.NetworkID),
					zap.Error(err),
				)
			}
		}
	})
	s.sent += uint64(n)
}
