// Package testutil holds helpers shared by package tests: a thread-safe log
// buffer, a logging test context, temporary file trees and small program
// fixtures.
package testutil
