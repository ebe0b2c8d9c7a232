package sync

import "testing"

func TestClassify(t *testing.T) {
	rec := Record{Fingerprint: "f-prov"}

	tests := []struct {
		name      string
		exists    bool
		onDisk    string
		extracted string
		want      Classification
	}{
		{
			name:      "no record means first sync",
			exists:    false,
			onDisk:    "f-anything",
			extracted: "f-new",
			want:      ClassCreated,
		},
		{
			name:      "no record ignores on-disk state",
			exists:    false,
			onDisk:    "",
			extracted: "f-new",
			want:      ClassCreated,
		},
		{
			name:      "everything matches",
			exists:    true,
			onDisk:    "f-prov",
			extracted: "f-prov",
			want:      ClassUnchanged,
		},
		{
			name:      "upstream moved, destination clean",
			exists:    true,
			onDisk:    "f-prov",
			extracted: "f-new",
			want:      ClassUpdated,
		},
		{
			name:      "destination edited, upstream unchanged",
			exists:    true,
			onDisk:    "f-local",
			extracted: "f-prov",
			want:      ClassLocallyModified,
		},
		{
			name:      "both sides changed independently",
			exists:    true,
			onDisk:    "f-local",
			extracted: "f-new",
			want:      ClassConflict,
		},
		{
			name:      "destination already matches new upstream",
			exists:    true,
			onDisk:    "f-new",
			extracted: "f-new",
			want:      ClassUnchanged,
		},
		{
			name:      "destination deleted, upstream unchanged",
			exists:    true,
			onDisk:    "",
			extracted: "f-prov",
			want:      ClassLocallyModified,
		},
		{
			name:      "destination deleted, upstream changed",
			exists:    true,
			onDisk:    "",
			extracted: "f-new",
			want:      ClassConflict,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(rec, tc.exists, tc.onDisk, tc.extracted)
			if got != tc.want {
				t.Errorf("Classify(exists=%v, onDisk=%q, extracted=%q) = %s, want %s",
					tc.exists, tc.onDisk, tc.extracted, got, tc.want)
			}
		})
	}
}
