// Package queue implements the bounded refresh request queue.
//
// Capacity overflow evicts the oldest entry by insertion order regardless of
// priority. Draining returns entries highest priority first, then earliest
// timestamp, then insertion order.
package queue
