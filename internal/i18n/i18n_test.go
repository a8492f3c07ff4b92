package i18n

import "testing"

func TestGet(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name string
		key  string
		lang string
		want string
	}{
		{"english is the key itself", "Done.", "en", "Done."},
		{"bundled translation", "Done.", "id", "Selesai."},
		{"missing key falls back", "No such key.", "id", "No such key."},
		{"missing language falls back", "Done.", "xx", "Done."},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Get(tt.key, tt.lang); got != tt.want {
				t.Fatalf("Get(%q, %q) = %q, want %q", tt.key, tt.lang, got, tt.want)
			}
		})
	}
}
