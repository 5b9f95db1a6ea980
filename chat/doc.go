// Package chat holds the server side state of chatter: one Session per client
// connection and the Directory that ties authenticated sessions together.
//
// Nothing in this package is safe for concurrent use. The server touches
// sessions and the directory from its event loop only, which is what makes
// every directory operation atomic.
package chat
