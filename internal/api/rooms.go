package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var errEmptyRoomID = errors.New("empty room id")

func roomPath(id string, suffix ...string) (string, error) {
	if id == "" {
		return "", errEmptyRoomID
	}
	return "/rooms/" + url.PathEscape(id) + strings.Join(suffix, ""), nil
}

// CreateRoom creates a room named name.
func (c *Client) CreateRoom(ctx context.Context, name string) (*Room, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("create room: empty name")
	}

	var room Room
	if err := c.call(ctx, "create_room", http.MethodPost, "/rooms", createRoomRequest{Name: name}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms returns all rooms visible to the user.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.call(ctx, "list_rooms", http.MethodGet, "/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetRoom fetches a single room.
func (c *Client) GetRoom(ctx context.Context, id string) (*Room, error) {
	path, err := roomPath(id)
	if err != nil {
		return nil, err
	}

	var room Room
	if err := c.call(ctx, "get_room", http.MethodGet, path, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListParticipants returns the users currently in a room.
func (c *Client) ListParticipants(ctx context.Context, id string) ([]User, error) {
	path, err := roomPath(id, "/participants")
	if err != nil {
		return nil, err
	}

	var users []User
	if err := c.call(ctx, "list_participants", http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// JoinRoom adds the user to a room's membership.
func (c *Client) JoinRoom(ctx context.Context, id string) error {
	path, err := roomPath(id, "/join")
	if err != nil {
		return err
	}
	return c.call(ctx, "join_room", http.MethodPost, path, nil, nil)
}

// LeaveRoom removes the user from a room's membership.
func (c *Client) LeaveRoom(ctx context.Context, id string) error {
	path, err := roomPath(id, "/leave")
	if err != nil {
		return err
	}
	return c.call(ctx, "leave_room", http.MethodPost, path, nil, nil)
}
