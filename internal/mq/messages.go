package mq

import "slotwatch/internal/models"

// CheckRequest asks the agent to scan the booking site for the given monitors.
type CheckRequest struct {
	Monitors []models.Monitor `json:"monitors"`
}

// CheckReply carries the slots found per monitor id.
type CheckReply struct {
	Success bool                     `json:"success"`
	Error   string                   `json:"error,omitempty"`
	Slots   map[string][]models.Slot `json:"slots,omitempty"`
}

// BookRequest asks the agent to pre-fill a reservation for the slot.
type BookRequest struct {
	Slot    models.Slot    `json:"slot"`
	Monitor models.Monitor `json:"monitor"`
}

// BookReply reports the outcome of the booking workflow hand-off.
type BookReply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
