// Package crawler holds the contracts shared by the discovery engine, the
// fetchers, the task pipeline and the storage backends: result and graph
// types, task metadata, and the small interfaces each subsystem implements.
package crawler
