package dto

// MessagePayload — входящий текст, и по HTTP, и по WebSocket
type MessagePayload struct {
	Text string `json:"text" binding:"required"`
}

type GiftRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	RoomID string `json:"room_id"`
}
