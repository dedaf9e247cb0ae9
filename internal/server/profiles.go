package server

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/pinhub/internal/model"
)

// Directory resolves user identities to their profiles. Profile persistence
// lives outside the hub; the directory is the boundary.
type Directory interface {
	User(email string) (*model.User, error)
	UserByShareToken(token string) (*model.User, error)
}

// StaticDirectory is an in-memory directory loaded at startup.
type StaticDirectory struct {
	users  map[string]*model.User
	tokens map[string]*model.User
}

// NewStaticDirectory indexes the given users. Dashboards without a share
// token are assigned a fresh one.
func NewStaticDirectory(users ...*model.User) *StaticDirectory {
	d := &StaticDirectory{
		users:  make(map[string]*model.User),
		tokens: make(map[string]*model.User),
	}
	for _, u := range users {
		d.users[u.Email] = u
		for _, dash := range u.Profile.Dashboards {
			if dash.ShareToken == "" {
				dash.ShareToken = uuid.NewString()
			}
			d.tokens[dash.ShareToken] = u
		}
	}
	return d
}

// User looks up a user by email.
func (d *StaticDirectory) User(email string) (*model.User, error) {
	u, ok := d.users[email]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", email)
	}
	return u, nil
}

// UserByShareToken finds the user owning the dashboard shared under token.
func (d *StaticDirectory) UserByShareToken(token string) (*model.User, error) {
	u, ok := d.tokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown share token")
	}
	return u, nil
}

// Profile file format. Widgets carry an explicit kind discriminator.

type profileFile struct {
	Users []userSpec `json:"users"`
}

type userSpec struct {
	Email      string     `json:"email"`
	Dashboards []dashSpec `json:"dashboards"`
}

type dashSpec struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	IsActive   bool            `json:"isActive"`
	ShareToken string          `json:"shareToken"`
	Devices    []*model.Device `json:"devices"`
	Tags       []*model.Tag    `json:"tags"`
	Widgets    []widgetSpec    `json:"widgets"`
	Rules      []model.Rule    `json:"rules"`
	Webhooks   []model.Webhook `json:"webhooks"`
}

type widgetSpec struct {
	Kind        string        `json:"kind"` // "button", "gauge" or "selector"
	ID          int64         `json:"id"`
	DeviceID    int           `json:"deviceId"`
	PinType     model.PinType `json:"pinType"`
	Pin         uint8         `json:"pin"`
	FrequencyMS int64         `json:"frequencyMs"`
	Selected    int           `json:"selected"`
}

func (w *widgetSpec) build() (model.Widget, error) {
	switch w.Kind {
	case "button":
		return &model.Button{ID: w.ID, DeviceID: w.DeviceID, Type: w.PinType, Pin: w.Pin}, nil
	case "gauge":
		return &model.Gauge{
			ID:        w.ID,
			DeviceID:  w.DeviceID,
			Type:      w.PinType,
			Pin:       w.Pin,
			Frequency: time.Duration(w.FrequencyMS) * time.Millisecond,
		}, nil
	case "selector":
		return model.NewDeviceSelector(w.ID, w.Selected), nil
	default:
		return nil, fmt.Errorf("unknown widget kind %q", w.Kind)
	}
}

// LoadDirectory reads a profile file and builds the directory.
func LoadDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var file profileFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	users := make([]*model.User, 0, len(file.Users))
	for _, us := range file.Users {
		u := &model.User{Email: us.Email}
		for _, ds := range us.Dashboards {
			dash := &model.Dashboard{
				ID:         ds.ID,
				Name:       ds.Name,
				IsActive:   ds.IsActive,
				ShareToken: ds.ShareToken,
				Devices:    ds.Devices,
				Tags:       ds.Tags,
				Rules:      ds.Rules,
				Webhooks:   ds.Webhooks,
			}
			for _, ws := range ds.Widgets {
				w, err := ws.build()
				if err != nil {
					return nil, fmt.Errorf("dashboard %d: %w", ds.ID, err)
				}
				dash.Widgets = append(dash.Widgets, w)
			}
			u.Profile.Dashboards = append(u.Profile.Dashboards, dash)
		}
		users = append(users, u)
	}

	return NewStaticDirectory(users...), nil
}
