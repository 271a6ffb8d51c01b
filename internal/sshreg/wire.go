package sshreg

// Wire structs for the RFC 4254 §7.1/§7.2 messages this registrar speaks.
// Field order matters: golang.org/x/crypto/ssh.Marshal/Unmarshal encode in
// declaration order with no struct tags.

// forwardRequest is the payload of a "tcpip-forward" or "cancel-tcpip-forward"
// global request.
type forwardRequest struct {
	BindAddr string
	BindPort uint32
}

// forwardSuccess is the reply payload for a successful "tcpip-forward".
type forwardSuccess struct {
	Port uint32
}

// forwardedTCPIPPayload is the payload of a "forwarded-tcpip" channel open,
// identifying both the forward that accepted the connection and the peer
// that connected to it.
type forwardedTCPIPPayload struct {
	ConnectedAddress  string
	ConnectedPort     uint32
	OriginatorAddress string
	OriginatorPort    uint32
}

const forwardedTCPIPChannelType = "forwarded-tcpip"
