package outbox

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/credits/internal/storage/memory"
)

func TestLogPublisher_DrainsOutbox(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, awardedEvent(601), awardedEvent(602))

	relay := newTestRelay(repo, NewLogPublisher(log.NewEntry(logger)))
	res := relay.Drain(context.Background(), 5)

	assert.Equal(t, 2, res.Sent)
	assert.Empty(t, repo.AllPending())
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "601", hook.AllEntries()[0].Data["aggregate_id"])
}
