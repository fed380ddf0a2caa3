package domain

// User is the minimal owner record the Alert Cache hydrates onto each
// alert. It is owned by the external auth subsystem; the core only
// reads it.
type User struct {
	ID              int64
	Email           string
	DeviceToken     string
	TelegramChatID  int64
	TelegramEnabled bool
}

// HasValidOwner reports whether the owner record was hydrated, i.e.
// carries a non-zero user ID. The durable store's alert scan drops
// alerts whose owner fails this check, so the Alert Cache never holds
// an ownerless alert (§4.3).
func (u User) HasValidOwner() bool {
	return u.ID != 0
}
