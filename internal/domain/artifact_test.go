package domain

import "testing"

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"mp4", FormatMP4, false},
		{"MP4", FormatMP4, false},
		{" webm ", FormatWEBM, false},
		{"av1", FormatAV1, false},
		{"ogg", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) should fail", tt.input)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v, want %v", tt.input, got, err, tt.want)
		}
	}
}

func TestFormat_Ext(t *testing.T) {
	for _, tt := range []struct {
		format Format
		want   string
	}{{FormatMP4, "mp4"}, {FormatWEBM, "webm"}, {FormatAV1, "av1.webm"}} {
		if got := tt.format.Ext(); got != tt.want {
			t.Errorf("%s.Ext() = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestArtifact_DualStored(t *testing.T) {
	for _, tt := range []struct {
		kind ArtifactKind
		want bool
	}{
		{ArtifactOriginal, false},
		{ArtifactTranscoded, false},
		{ArtifactFrame, false},
		{ArtifactPreviewClip, true},
		{ArtifactPoster, true},
	} {
		a := NewArtifact("item", tt.kind, "key")
		if got := a.DualStored(); got != tt.want {
			t.Errorf("%s.DualStored() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestContentTypeForKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"videos/x/transcoded/clip.mp4", "video/mp4"},
		{"videos/x/transcoded/clip.webm", "video/webm"},
		{"videos/x/frames/frame-0.jpg", "image/jpeg"},
		{"poster.JPEG", "image/jpeg"},
		{"videos/x/transcoded/clip.av1.webm", "video/webm"},
		{"videos/x/raw.bin", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := ContentTypeForKey(tt.key); got != tt.want {
			t.Errorf("ContentTypeForKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
