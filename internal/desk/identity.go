// ABOUTME: Logged-in agent identity and the capability names actions are gated on
// ABOUTME: Identity satisfies the permission collaborator with HasCapability

package desk

// Capability names a client-side permission.
type Capability string

const (
	CapAcceptChat   Capability = "accept_chat"
	CapSendMessage  Capability = "send_message"
	CapEndChat      Capability = "end_chat"
	CapTransferChat Capability = "transfer_chat"
)

// AllCapabilities lists every capability the console checks.
var AllCapabilities = []Capability{
	CapAcceptChat,
	CapSendMessage,
	CapEndChat,
	CapTransferChat,
}

// Identity is the authenticated agent driving the console.
type Identity struct {
	UserID       string
	Name         string
	Role         string
	Capabilities []Capability
}

// HasCapability reports whether the identity holds the named capability.
func (i *Identity) HasCapability(c Capability) bool {
	if i == nil {
		return false
	}
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
