// Package domain models the daily weather of the Roots of the Wild villages.
//
// # Weather Day
//
// Weather is rolled once per village per "weather day", a 24-hour period that
// starts at 13:00 UTC and ends at 12:59:59.999 UTC the following day:
//
//	2024-03-15T12:00:00Z  →  [2024-03-14T13:00:00Z, 2024-03-15T12:59:59.999Z]
//	2024-03-15T13:00:00Z  →  [2024-03-15T13:00:00Z, 2024-03-16T12:59:59.999Z]
//
// The cutover is independent of wall-clock midnight in any timezone. A record's
// Date is always the Start of the period it belongs to, and (Village, Date) is
// its natural key.
//
// # Record Lifecycle
//
//	created (not posted) → posted → pm posted
//
// Records are created lazily on the first request of a period, or ahead of
// time when a guaranteed special ("Song of Storms") is scheduled for the next
// period. They are only ever mutated to set posted flags or to attach a
// scheduled special, and are never deleted.
//
// # Posted Flags
//
// Records written before posted tracking existed carry no flag. They decode
// as LegacyUnknown and count as posted wherever a query filters on it.
package domain
