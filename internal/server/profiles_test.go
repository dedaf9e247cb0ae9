package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dkrasnov/pinhub/internal/model"
)

const sampleProfiles = `{
  "users": [
    {
      "email": "u@example.com",
      "dashboards": [
        {
          "id": 7,
          "name": "home",
          "isActive": true,
          "shareToken": "tok",
          "devices": [{"id": 1}, {"id": 10}],
          "tags": [{"id": 3, "devices": [1, 10]}],
          "widgets": [
            {"kind": "button", "id": 6, "deviceId": 1, "pinType": "v", "pin": 2},
            {"kind": "gauge", "id": 8, "deviceId": 1, "pinType": "v", "pin": 3, "frequencyMs": 1000},
            {"kind": "selector", "id": 5, "selected": 10}
          ],
          "rules": [
            {"name": "r", "deviceId": 1, "pinType": "v", "pin": 0, "condition": ">", "threshold": 30,
             "action": {"deviceId": 10, "pinType": "d", "pin": 5, "value": "1"}}
          ],
          "webhooks": [
            {"deviceId": 1, "pinType": "v", "pin": 4, "url": "http://example.com/%s"}
          ]
        }
      ]
    }
  ]
}`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDirectory(t *testing.T) {
	dir, err := LoadDirectory(writeProfiles(t, sampleProfiles))
	if err != nil {
		t.Fatal(err)
	}

	u, err := dir.User("u@example.com")
	if err != nil {
		t.Fatal(err)
	}
	dash, err := u.Profile.Dashboard(7)
	if err != nil {
		t.Fatal(err)
	}

	if len(dash.Devices) != 2 || len(dash.Tags) != 1 || len(dash.Widgets) != 3 {
		t.Errorf("dashboard shape: %d devices, %d tags, %d widgets",
			len(dash.Devices), len(dash.Tags), len(dash.Widgets))
	}
	if len(dash.Rules) != 1 || len(dash.Webhooks) != 1 {
		t.Errorf("dashboard has %d rules, %d webhooks", len(dash.Rules), len(dash.Webhooks))
	}

	sel := dash.Target(5)
	if sel == nil || sel.Kind() != model.TargetSelector {
		t.Errorf("widget 5 should resolve as a selector target, got %v", sel)
	}

	if _, err := dir.UserByShareToken("tok"); err != nil {
		t.Errorf("share token lookup: %v", err)
	}
	if _, err := dir.User("nobody@example.com"); err == nil {
		t.Error("unknown user should fail")
	}
}

func TestLoadDirectoryAssignsShareTokens(t *testing.T) {
	content := `{"users": [{"email": "a@b.c", "dashboards": [{"id": 1, "isActive": true}]}]}`
	dir, err := LoadDirectory(writeProfiles(t, content))
	if err != nil {
		t.Fatal(err)
	}

	u, err := dir.User("a@b.c")
	if err != nil {
		t.Fatal(err)
	}
	token := u.Profile.Dashboards[0].ShareToken
	if token == "" {
		t.Fatal("dashboard without a share token should get one assigned")
	}
	if _, err := dir.UserByShareToken(token); err != nil {
		t.Errorf("assigned token not indexed: %v", err)
	}
}

func TestLoadDirectoryRejectsUnknownWidgetKind(t *testing.T) {
	content := `{"users": [{"email": "a@b.c", "dashboards": [
		{"id": 1, "widgets": [{"kind": "slider", "id": 2}]}]}]}`
	if _, err := LoadDirectory(writeProfiles(t, content)); err == nil {
		t.Error("unknown widget kind should fail")
	}
}

func TestLoadDirectoryMissingFile(t *testing.T) {
	if _, err := LoadDirectory(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}
