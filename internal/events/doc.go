// Package events carries typed queue notifications from the workflow to
// subscribers. Delivery order matches publish order per subscriber, so
// consumers always observe an item's status changes in sequence.
package events
