package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUndeliverableEmailFormat(t *testing.T) {
	ef := &UndeliverableEmailFormat{
		NotificationTitle: "Jazz <night>",
		SubscriptionIDs:   []string{"sub-1", "sub-2"},
		DispatchedAt:      time.Date(2024, 10, 1, 20, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, "eventpush: 2 subscriptions need review", ef.Subject())

	body := ef.Body()
	assert.Contains(t, body, "<code>sub-1</code>")
	assert.Contains(t, body, "<code>sub-2</code>")
	assert.Contains(t, body, "Jazz &lt;night&gt;")
	assert.Contains(t, body, "2024-10-01 20:00:00 UTC")
}
