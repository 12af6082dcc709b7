// Package scheduler picks the next execution state to run from a frontier
// ranked by a list of utilities.
package scheduler
