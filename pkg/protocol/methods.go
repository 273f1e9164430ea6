package protocol

// Bridge method names.
const (
	MethodConnect    = "connect"
	MethodPing       = "ping"
	MethodAuthStatus = "auth.status"
	MethodSend       = "message.send"
	MethodLogout     = "logout"
)

// Special JIDs used for account-level operations that have no chat target.
const (
	JIDPairing  = "0@pairing"
	JIDGroup    = "0@group"
	JIDProfile  = "0@profile"
	JIDDownload = "0@download"
)

// Message types passed to MethodSend alongside the payload.
const (
	TypeText           = "text"
	TypeInteractive    = "interactive"
	TypePoll           = "poll"
	TypeReaction       = "reaction"
	TypeDelete         = "delete"
	TypeTyping         = "typing"
	TypeStopTyping     = "stop_typing"
	TypeMedia          = "media"
	TypeCall           = "call"
	TypePairing        = "pairing"
	TypeGroupOperation = "group_operation"
	TypeGroupUpdate    = "group_update"
	TypeProfileUpdate  = "profile_update"
	TypeDownload       = "download"
)
