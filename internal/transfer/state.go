package transfer

// State is the per-item position in the transfer state machine. StateValid
// and StateError are terminal for a run.
type State int

const (
	StateNew State = iota
	StateResume
	StateRedownload
	StateDownloading
	StateVerifying
	StateValid
	StateCorrupt
	StateHashMismatch
	StateError
)

// stateNames is a total mapping; an out-of-range State is a bug, not a
// runtime condition, so there is no "unknown" entry.
var stateNames = [...]string{
	StateNew:          "NEW",
	StateResume:       "RESUME",
	StateRedownload:   "REDOWNLOAD",
	StateDownloading:  "DOWNLOADING",
	StateVerifying:    "VERIFYING",
	StateValid:        "VALID",
	StateCorrupt:      "CORRUPT",
	StateHashMismatch: "HASH_MISMATCH",
	StateError:        "ERROR",
}

func (s State) String() string {
	return stateNames[s]
}

// Terminal reports whether the machine makes no further transitions from s
// within a run.
func (s State) Terminal() bool {
	return s == StateValid || s == StateError
}
