package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexrivas/mirrorbot/internal/domain"
)

func TestRejectionLogSnapshotOrdersOldestFirst(t *testing.T) {
	var l rejectionLog
	for i := 0; i < 3; i++ {
		l.add(domain.RejectionRecord{TxHash: string(rune('a' + i)), Reason: domain.RejectStale, AtUTC: time.Now()})
	}
	snap := l.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].TxHash)
	assert.Equal(t, "c", snap[2].TxHash)
}

func TestRejectionLogWrapsAtCapacity(t *testing.T) {
	var l rejectionLog
	for i := 0; i < rejectionLogSize+10; i++ {
		l.add(domain.RejectionRecord{TxHash: "tx", Reason: domain.RejectDuplicate})
	}
	snap := l.snapshot()
	assert.Len(t, snap, rejectionLogSize, "buffer must never grow past its fixed capacity")
}

func TestRejectionLogCountsByReason(t *testing.T) {
	var l rejectionLog
	l.add(domain.RejectionRecord{Reason: domain.RejectStale})
	l.add(domain.RejectionRecord{Reason: domain.RejectStale})
	l.add(domain.RejectionRecord{Reason: domain.RejectDuplicate})

	counts := l.countsByReason()
	assert.Equal(t, 2, counts[domain.RejectStale])
	assert.Equal(t, 1, counts[domain.RejectDuplicate])
}
