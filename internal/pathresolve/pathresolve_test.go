package pathresolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sjnewbury/ldsim/internal/machine"
	"github.com/sjnewbury/ldsim/internal/vfs"
)

func TestSubstituteTokens(t *testing.T) {
	cases := []struct {
		in     string
		origin string
		libdir machine.LibDir
		want   string
	}{
		{"$ORIGIN/../lib", "/opt/app/bin", machine.Lib64, "/opt/app/bin/../lib"},
		{"${ORIGIN}/lib", "/opt/app/bin", machine.Lib64, "/opt/app/bin/lib"},
		{"/usr/$LIB", "/x", machine.Lib64, "/usr/lib64"},
		{"/usr/${LIB}", "/x", machine.Lib32, "/usr/lib32"},
		{"/opt/$PLATFORM/lib", "/x", machine.Lib64, "/opt//lib"},
		{"/no/tokens/here", "/x", machine.Lib, "/no/tokens/here"},
	}
	for _, c := range cases {
		got := substituteTokens(c.in, c.origin, c.libdir)
		if got != c.want {
			t.Errorf("substituteTokens(%q, %q, %v) = %q, want %q", c.in, c.origin, c.libdir, got, c.want)
		}
	}
}

func TestLoadLDSOConfParsesCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ld.so.conf")
	content := "# a comment\n/usr/local/lib\n\n/opt/lib  \n# trailing comment line\n  \n/usr/lib # inline comment\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := vfs.New("")
	dirs, err := LoadLDSOConf(fs, path)
	if err != nil {
		t.Fatalf("LoadLDSOConf: %v", err)
	}
	want := []string{"/usr/local/lib", "/opt/lib", "/usr/lib"}
	if len(dirs) != len(want) {
		t.Fatalf("dirs = %v, want %v", dirs, want)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Errorf("dirs[%d] = %q, want %q", i, dirs[i], want[i])
		}
	}
}

func TestLoadLDSOConfMissingFileIsNotAnError(t *testing.T) {
	fs := vfs.New("")
	dirs, err := LoadLDSOConf(fs, "/nonexistent/ld.so.conf")
	if err != nil {
		t.Errorf("missing ld.so.conf should not be an error, got %v", err)
	}
	if dirs != nil {
		t.Errorf("missing ld.so.conf should yield nil dirs, got %v", dirs)
	}
}

func TestDirnameOrDot(t *testing.T) {
	if got := DirnameOrDot(""); got != "." {
		t.Errorf("DirnameOrDot(\"\") = %q, want \".\"", got)
	}
	if got := DirnameOrDot("/bin/app"); got != "/bin" {
		t.Errorf("DirnameOrDot(/bin/app) = %q, want /bin", got)
	}
}
