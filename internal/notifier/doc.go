// Package notifier delivers operator notices (run progress, limits, aborts)
// to the owner chat.
//
// Notify never blocks on the network: notices are queued and sent by a small
// worker pool with a token-bucket limiter, retries with jittered backoff and
// a dedup window that drops identical notices sent in quick succession.
// Losing a notice never affects the dispatch run that raised it.
package notifier
