// ABOUTME: Package conversation documentation
// ABOUTME: Room fan-out used by the development desk backend

// Package conversation fans realtime frames out to the agents connected to a
// room. Each chat group is a room; the Lobby room carries directory-wide
// broadcasts such as move_to_top and group_list_changed.
package conversation
