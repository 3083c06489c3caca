package engine

import "testing"

func TestLocate(t *testing.T) {
	data := []byte(`{
  "resourceType": "Patient",
  "identifier": [
    {"value": "a"},
    {
      "value": "b"
    }
  ],
  "name": [{"given": ["x"]}]
}`)

	tests := []struct {
		path     string
		wantLine int
		wantCol  int
	}{
		{"Patient", 1, 1},
		{"", 1, 1},
		{"Patient.identifier", 3, 3},
		{"Patient.identifier[0]", 4, 5},
		{"Patient.identifier[1].value", 6, 7},
		{"Patient.name[0].given", 9, 13},
		{"Patient.birthDate", 1, 1},           // falls back to root
		{"Patient.identifier[5].value", 3, 3}, // falls back to the array
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			line, col, ok := Locate(data, tt.path)
			if !ok {
				t.Fatal("Locate() ok = false")
			}
			if line != tt.wantLine || col != tt.wantCol {
				t.Errorf("Locate() = %d:%d; want %d:%d", line, col, tt.wantLine, tt.wantCol)
			}
		})
	}
}

func TestLocate_NotAnObject(t *testing.T) {
	if _, _, ok := Locate([]byte(`[1]`), "Patient.id"); ok {
		t.Error("Locate() ok = true; want false")
	}
}

func TestSplitPath(t *testing.T) {
	got := splitPath("Bundle.entry[0].resource.id")
	want := []string{"entry", "0", "resource", "id"}
	if len(got) != len(want) {
		t.Fatalf("splitPath() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitPath()[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}
