package model

import "fmt"

// Profile is the set of dashboards belonging to one user.
type Profile struct {
	Dashboards []*Dashboard `json:"dashboards"`
}

// Dashboard looks up a dashboard by id.
func (p *Profile) Dashboard(id int) (*Dashboard, error) {
	for _, d := range p.Dashboards {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("dashboard %d: %w", id, ErrDashboardNotFound)
}

// User identifies a platform account and owns its profile.
type User struct {
	Email   string  `json:"email"`
	Profile Profile `json:"profile"`
}
