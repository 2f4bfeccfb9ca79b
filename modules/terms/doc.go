// Package terms serves the analysis actions of the message protocol: running
// terms analyses through the dispatcher, reading back history, clearing the
// cache and reporting backend status.
package terms
