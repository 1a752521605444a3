package ipc

// Commands understood by the kiosk.
const (
	CommandStatus = "status"
	CommandPress  = "press"
	CommandInsert = "insert"
	CommandLogout = "logout"
)

// Request is one socket command. Arg carries the key name for "press" and the card number for "insert".
type Request struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

// Press asks the kiosk to press one key ("0".."9", "enter", "clear", "cancel").
func Press(key string) Request {
	return Request{Command: CommandPress, Arg: key}
}

// Insert feeds cardNumber to the simulated card reader.
func Insert(cardNumber string) Request {
	return Request{Command: CommandInsert, Arg: cardNumber}
}

// Response reports the outcome and the screen shown afterwards in State.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
