package metrics

/*
Labels and so on for metrics used in cascade.
*/

const (
	LabelApp         = "app"
	LabelEnvironment = "environment"
	LabelMethod      = "method"
	LabelRoute       = "route"
	LabelSuccess     = "success"

	// Labels for promotion metrics
	LabelState   = "state"
	LabelTrigger = "trigger"
)
