package constants

// RunType identifies the variant a run is expanded into.
type RunType string

const (
	// RunBaseline runs every participant as a non-learning baseline agent.
	RunBaseline RunType = "baseline"

	// RunTraining lets learning participants adapt, jointly or one target at a time.
	RunTraining RunType = "training"

	// RunValidation evaluates every participant with learning disabled.
	RunValidation RunType = "validation"
)

// Valid returns true if the run type is a recognized value.
func (r RunType) Valid() bool {
	switch r {
	case RunBaseline, RunTraining, RunValidation:
		return true
	}
	return false
}

// String returns the string representation of the run type.
func (r RunType) String() string {
	return string(r)
}
