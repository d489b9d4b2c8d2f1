package htmlsandwich

import "testing"

func TestParseSplitsOnMarkers(t *testing.T) {
	content := "<html><head>" + metaMarker + "</head><body>" + jsonMarker + "</body></html>"
	s, err := Parse(content)
	if err != nil {
		t.Fatal(err)
	}
	if s.Prefix != "<html><head>" {
		t.Fatalf("prefix = %q", s.Prefix)
	}
	if s.Middle != "</head><body>" {
		t.Fatalf("middle = %q", s.Middle)
	}
	if s.Suffix != "</body></html>" {
		t.Fatalf("suffix = %q", s.Suffix)
	}
}

func TestParseMissingMarkerErrors(t *testing.T) {
	if _, err := Parse("<html></html>"); err == nil {
		t.Fatalf("expected error for missing markers")
	}
}
