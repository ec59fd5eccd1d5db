package logging

// Status tracks whether lines also reach the log file. Once it leaves
// Uninitialized or Successful for one of the failure values it never comes back.
type Status int

const (
	StatusStreamBroken   Status = -3
	StatusNonInitFailure Status = -2
	StatusFailure        Status = -1
	StatusUninitialized  Status = 0
	StatusSuccessful     Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusStreamBroken:
		return "StreamBroken"
	case StatusNonInitFailure:
		return "NonInitFailure"
	case StatusFailure:
		return "Failure"
	case StatusUninitialized:
		return "Uninitialized"
	case StatusSuccessful:
		return "Successful"
	default:
		return "Unknown"
	}
}

// fileEnabled reports whether a line should be written to the file sink.
func (s Status) fileEnabled() bool {
	return s == StatusSuccessful
}
