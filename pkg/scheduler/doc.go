/*
Package scheduler provides the priority queue that decides when each
repository is next polled.

Entries are kept in a min-heap keyed on due time. Scheduling an id that is
already pending does not rebuild the heap: the old entry is tombstoned in
place and silently discarded when it reaches the top, so the map of live
entries always references the latest intent for every repository.

Reschedule only ever moves an entry earlier. Push notifications use it to
shortcut the regular cadence without being able to delay a poll that was
already imminent.
*/
package scheduler
