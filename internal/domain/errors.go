package domain

import "errors"

// Error kinds from §7. These are sentinels, not a type hierarchy: the
// core logs and swallows background-task errors. The notification
// worker checks ErrNotificationPermanent with errors.Is to choose
// between retrying a job and disabling the channel.
var (
	ErrUpstreamAuth      = errors.New("feed: upstream auth token missing or invalid")
	ErrUpstreamTransport = errors.New("feed: upstream transport error")
	ErrUpstreamExhausted = errors.New("feed: reconnect attempts exhausted")

	ErrCacheStoreTransient    = errors.New("cache store: transient failure")
	ErrDurableStoreBulkFailed = errors.New("durable store: bulk write failed")

	ErrNotificationPermanent = errors.New("notification: recipient invalid")
	ErrNotificationTransient = errors.New("notification: transient failure")

	ErrInvalidAlertBounds = errors.New("alert: entry/stop/target bounds violate position invariant")
	ErrInvalidPosition    = errors.New("alert: unknown position")

	ErrAlertCacheNotReady = errors.New("alert cache: first refresh not yet complete")
)
