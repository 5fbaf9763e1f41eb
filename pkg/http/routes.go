package http

// Names of the routes served by the daemon, used for URL construction
// on the client side and instrumentation on the server side.
const (
	Ping    = "Ping"
	Version = "Version"
	Notify  = "Notify"

	ListRequests = "ListRequests"
	MergeRequest = "MergeRequest"
	Rollback     = "Rollback"
	Resolve      = "Resolve"
	SyncState    = "SyncState"
	JobStatus    = "JobStatus"
)
