// Package notify carries push notifications ("repository X has new data")
// from the HTTP front-end to the crawl scheduler.
//
// The queue is bounded and producers never block: notifications are dropped
// on overflow. A drain loop wakes on a short cadence and converts queued
// notifications into earlier scheduler due times, bounded below by a
// minimum delay so notification storms cannot hammer a repository.
package notify
