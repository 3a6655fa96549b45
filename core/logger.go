package core

// Logger is any leveled logger. args may carry errors, maps of extra fields and
// at most one Actor, the person the message is reported for.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Actor identifies who performed an operation.
type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Name is the identity recorded on ledger entries.
func (a Actor) Name() string {
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}
