// Package node holds the plumbing shared by the node commands: opening
// the configured link, store and protocol log, and keeping the link
// dialled.
package node
