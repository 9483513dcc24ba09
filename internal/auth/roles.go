// ABOUTME: Default capability sets per agent role
// ABOUTME: Used when minting tokens for roles that do not list capabilities explicitly

package auth

import "github.com/2389/coven-desk/internal/desk"

// Role names understood by the console.
const (
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleObserver   = "observer"
)

// DefaultCapabilities returns the capability set a role gets by default.
// Unknown roles get none.
func DefaultCapabilities(role string) []desk.Capability {
	switch role {
	case RoleAdmin, RoleSupervisor:
		caps := make([]desk.Capability, len(desk.AllCapabilities))
		copy(caps, desk.AllCapabilities)
		return caps
	case RoleAgent:
		return []desk.Capability{desk.CapAcceptChat, desk.CapSendMessage, desk.CapEndChat, desk.CapTransferChat}
	case RoleObserver:
		return []desk.Capability{}
	default:
		return nil
	}
}
