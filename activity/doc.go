// Package activity tracks the last observed user interaction for one
// execution context and turns it into the refresh threshold the manager
// uses when it arms the next refresh timer.
//
// [EffectiveThreshold] is a pure function of the inactivity duration so the
// manager's scheduling stays deterministic under a fake clock.
package activity
