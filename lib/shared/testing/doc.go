// Package testing provides conformance test suites for implementations of
// the shared.ISharedStore and shared.IMessageBroker interfaces. Every
// implementation is expected to pass both suites; the lstore package runs
// them in-process, the rstore package can run them against a real server.
package testing
