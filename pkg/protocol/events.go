package protocol

// Event names pushed from the bridge to walink.
const (
	EventMessage       = "message"
	EventMessageStatus = "message.status"
	EventCall          = "call"
	EventGroupUpdate   = "group.update"
	EventConnection    = "connection"
	EventQR            = "qr"
	EventPairingUpdate = "pairing.update"
	EventPresence      = "presence"
	EventShutdown      = "shutdown"
)

// Connection event subtypes (in payload.state)
const (
	ConnectionOpen       = "open"
	ConnectionClose      = "close"
	ConnectionConnecting = "connecting"
)
