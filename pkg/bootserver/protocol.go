// Package bootserver speaks the boot control protocol on an abstract
// Unix socket: single-byte commands from init and other privileged
// clients, single-byte replies, and asynchronous password answers.
package bootserver

// SocketPath is the abstract-namespace control socket. The leading NUL
// keeps it out of the filesystem.
const SocketPath = "\x00/ply-boot-protocol"

// Request command bytes.
const (
	RequestPing              = 'P'
	RequestUpdateStatus      = 'U'
	RequestSystemInitialized = 'S'
	RequestError             = '!'
	RequestShowSplash        = '$'
	RequestHideSplash        = 'H'
	RequestQuit              = 'Q'
	RequestNewRoot           = 'R'
	RequestPassword          = '*'
)

// Response bytes.
const (
	ResponseAck      = '\x06'
	ResponseNak      = '\x15'
	ResponseAnswer   = '\x02'
	ResponseNoAnswer = '\x05'
)

// argumentFollows flags a request header whose command carries a
// one-byte-length argument.
const argumentFollows = '\x02'

// Handler receives decoded protocol commands. Every method runs on the
// daemon's event loop thread.
type Handler interface {
	// UpdateStatus reports a new boot status string.
	UpdateStatus(status string) error
	// SystemInitialized marks the point where the real init took over.
	SystemInitialized() error
	// ShowSplash asks for the splash to come up.
	ShowSplash() error
	// HideSplash asks for the splash to go away.
	HideSplash() error
	// Error reports that the boot session hit an error.
	Error() error
	// NewRoot announces the real root filesystem at path.
	NewRoot(path string) error
	// Quit asks the daemon to exit.
	Quit() error
	// AskForPassword requests a password from the user. reply must be
	// called exactly once: with the entered text, or with ok=false when
	// the prompt was cancelled or the daemon is quitting.
	AskForPassword(reply func(password string, ok bool)) error
}
