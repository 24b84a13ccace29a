package rbac

import (
	"reflect"
	"testing"
)

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		allow  bool
	}{
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{RoleViewer, ActionAnalyze, false},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionAnalyze, true},
		{RoleEditor, ActionAdmin, false},
		{RoleAdmin, ActionAdmin, true},
		{Role("owner"), ActionRead, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.role)+"/"+string(tc.action), func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestActionsReturnsCopy(t *testing.T) {
	actions := Actions(RoleEditor)
	if want := []Action{ActionRead, ActionWrite, ActionAnalyze}; !reflect.DeepEqual(actions, want) {
		t.Fatalf("Actions(editor) = %v, want %v", actions, want)
	}
	actions[0] = ActionAdmin
	if !Can(RoleEditor, ActionRead) || Can(RoleEditor, ActionAdmin) {
		t.Fatal("mutating the returned slice changed the grants")
	}
	if got := Actions(Role("owner")); len(got) != 0 {
		t.Fatalf("unknown role got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"admin":     RoleAdmin,
		" Editor ":  RoleEditor,
		"commenter": RoleViewer,
		"":          RoleViewer,
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}
