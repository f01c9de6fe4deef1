package parse

import (
	"strings"
	"testing"
)

func TestFrameFromFilename(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"0001.jpg", 1},
		{"frame_0123.png", 123},
		{"images/0042.jpg", 42},
		{"0005/undistorted.jpg", 5},
		{"IMG_9.PNG", 9},
		{" 0010.jpg ", 10},
		{"image.jpg", -1},
		{"noextension", -1},
		{"", -1},
	}
	for _, c := range cases {
		if got := frameFromFilename(c.name); got != c.want {
			t.Errorf("frameFromFilename(%q) = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestForFile(t *testing.T) {
	p, err := ForFile("recon/model.out")
	if err != nil {
		t.Fatalf("ForFile(.out) failed: %v", err)
	}
	if p.Name() != "Bundler" {
		t.Errorf("parser for .out = %s", p.Name())
	}

	p, err = ForFile("scene.NVM")
	if err != nil {
		t.Fatalf("ForFile(.NVM) failed: %v", err)
	}
	if p.Name() != "NVM" {
		t.Errorf("parser for .NVM = %s", p.Name())
	}

	if _, err := ForFile("cloud.ply"); err == nil {
		t.Error("ForFile(.ply) did not fail")
	}
}

func TestTokenReader(t *testing.T) {
	in := strings.NewReader("# comment line\n\n  1 2 3  \n# trailer\n4.5 6.5\n")
	tr := newTokenReader(in)

	vals, err := tr.readFloats(3)
	if err != nil {
		t.Fatalf("readFloats failed: %v", err)
	}
	if vals[0] != 1 || vals[1] != 2 || vals[2] != 3 {
		t.Errorf("readFloats = %v", vals)
	}

	if _, err := tr.readFloats(3); err == nil {
		t.Error("readFloats accepted a 2-token line as 3 floats")
	}
}

func TestTokenReaderRawKeepsComments(t *testing.T) {
	in := strings.NewReader("\n# Bundle file v0.3\n")
	tr := newTokenReader(in)

	tokens, err := tr.readRawLine()
	if err != nil {
		t.Fatalf("readRawLine failed: %v", err)
	}
	if len(tokens) != 4 || tokens[0] != "#" || tokens[3] != "v0.3" {
		t.Errorf("readRawLine = %v", tokens)
	}
}
