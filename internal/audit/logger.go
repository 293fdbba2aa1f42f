package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLeaseGranted     EventType = "lease_granted"
	EventLeaseReleased    EventType = "lease_released"
	EventLeaseReclaimed   EventType = "lease_reclaimed"
	EventAllocationDenied EventType = "allocation_denied"
	EventFloodWait        EventType = "flood_wait"
	EventPeerFlood        EventType = "peer_flood"
	EventAccountBlocked   EventType = "account_blocked"
	EventAccountDisabled  EventType = "account_disabled"
	EventActionExecuted   EventType = "action_executed"
	EventUnknownError     EventType = "unknown_error"
)

type Event struct {
	Type      EventType
	AccountID string
	Service   string
	Details   map[string]interface{}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "account_pool").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.AccountID != "" {
		logger = logger.With().Str("account_id", event.AccountID).Logger()
	}
	if event.Service != "" {
		logger = logger.With().Str("service", event.Service).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("account pool audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
