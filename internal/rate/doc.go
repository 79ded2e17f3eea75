// Package rate implements per-flow attempt counters with a lockout window.
//
// # Window semantics
//
// Each failure increments the counter. Reaching Rule.MaxAttempts records a
// "locked since" instant and locks the flow for Rule.Window. Unlocked failures
// expire Rule.Window after the first one (fixed window, INCR + conditional
// EXPIRE in the Redis store). A success resets everything immediately.
//
// Redis keys:
//   - <prefix>:<flow>:<scope>       failure counter
//   - <prefix>:<flow>:<scope>:lock  lock marker holding the lock instant (unix ms)
//
// # What this package must NOT do
//
//   - Call the identity backend or know what a flow does.
//   - Be imported outside the authclient module.
package rate
