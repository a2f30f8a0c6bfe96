package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	videoapi "github.com/twilio/twilio-go/rest/video/v1"
)

// Twilio error code for "Room exists"
const twilioCodeRoomExists = 53113

type roomAPI interface {
	CreateRoom(params *videoapi.CreateRoomParams) (*videoapi.VideoV1Room, error)
	FetchRoom(sid string) (*videoapi.VideoV1Room, error)
}

type TwilioOptions struct {
	AccountSID        string
	AuthToken         string
	RoomType          string
	StatusCallbackURL string
}

// TwilioClient provisions Twilio Video rooms
type TwilioClient struct {
	api               roomAPI
	roomType          string
	statusCallbackURL string
}

func NewTwilioClient(opts TwilioOptions) *TwilioClient {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return newTwilioClient(rest.VideoV1, opts)
}

func newTwilioClient(api roomAPI, opts TwilioOptions) *TwilioClient {
	roomType := opts.RoomType
	if roomType == "" {
		roomType = "group"
	}
	return &TwilioClient{
		api:               api,
		roomType:          roomType,
		statusCallbackURL: opts.StatusCallbackURL,
	}
}

func (c *TwilioClient) CreateRoom(ctx context.Context, name string, capacity int) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &videoapi.CreateRoomParams{}
	params.SetUniqueName(name)
	params.SetType(c.roomType)
	if capacity > 0 {
		params.SetMaxParticipants(capacity)
	}
	if c.statusCallbackURL != "" {
		params.SetStatusCallback(c.statusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
	}

	resp, err := c.api.CreateRoom(params)
	if err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Code == twilioCodeRoomExists {
			return nil, fmt.Errorf("create room %q: %w", name, ErrRoomExists)
		}
		return nil, fmt.Errorf("create room %q: %w", name, err)
	}
	return toRoom(resp), nil
}

func (c *TwilioClient) FetchRoom(ctx context.Context, name string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Twilio resolves an in-progress room's unique name in place of its SID
	resp, err := c.api.FetchRoom(name)
	if err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("fetch room %q: %w", name, ErrRoomNotFound)
		}
		return nil, fmt.Errorf("fetch room %q: %w", name, err)
	}
	return toRoom(resp), nil
}

func toRoom(r *videoapi.VideoV1Room) *Room {
	out := &Room{}
	if r == nil {
		return out
	}
	if r.Sid != nil {
		out.SID = *r.Sid
	}
	if r.UniqueName != nil {
		out.UniqueName = *r.UniqueName
	}
	if r.Status != nil {
		out.Status = Status(*r.Status)
	}
	return out
}
