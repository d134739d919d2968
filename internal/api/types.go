package api

// Room is a chat room.
type Room struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Participants []User `json:"participants"`
}

// User is a room participant.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// createRoomRequest is the body of POST /rooms.
type createRoomRequest struct {
	Name string `json:"name"`
}
