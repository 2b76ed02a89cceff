package models

import "time"

type ShareLink struct {
	Token     string    `json:"token" example:"q3NfL0bV9x7iYpC2mR8sT1wZ4kD6hJ5e"`
	OwnerID   int64     `json:"owner_id" example:"1"`
	NodeID    string    `json:"node_id" example:"V1StGXR8_Z5jdHi6B-myT"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// SharedNode pairs a link with its source node. Node is nil once the source
// has been deleted.
type SharedNode struct {
	ShareLink
	Node *Node `json:"node"`
}
