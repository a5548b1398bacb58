// Package crawler defines the record model and the collaborator interfaces
// shared by the queue, pusher, orchestrator and adapter packages.
package crawler
