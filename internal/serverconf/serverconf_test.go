package serverconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderLighttpdSyslogByDefault(t *testing.T) {
	out := RenderLighttpd(Options{FileDir: "/srv/www", Hostname: "127.0.0.1", Port: 8080, UploadsDir: "/tmp/up"})

	for _, want := range []string{
		`server.document-root = "/srv/www"`,
		`server.bind = "127.0.0.1"`,
		`server.upload-dirs = ( "/tmp/up" )`,
		`server.port = 8080`,
		`server.errorlog-use-syslog = "enable"`,
		`index-file.names += ("index.xhtml", "index.html", "index.htm", "default.htm", "index.php")`,
		`".tar.gz" => "application/x-tgz"`,
		`"" => "application/octet-stream"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected config to contain %q", want)
		}
	}
	if strings.Contains(out, "debug.log-") {
		t.Error("expected no debug options without error log config")
	}
}

func TestRenderLighttpdErrorLog(t *testing.T) {
	out := RenderLighttpd(Options{
		FileDir:  "/srv/www",
		Hostname: "0.0.0.0",
		Port:     80,
		ErrorLog: &ErrorLogOptions{FileNotFound: true, Timeouts: true},
	})

	if !strings.Contains(out, `debug.log-file-not-found = "enable"`) {
		t.Error("expected file-not-found debug option")
	}
	if !strings.Contains(out, `debug.log-timeouts = "enable"`) {
		t.Error("expected timeouts debug option")
	}
	if strings.Contains(out, "request-header") {
		t.Error("expected disabled options to be omitted")
	}
	if strings.Contains(out, "errorlog-use-syslog") {
		t.Error("expected syslog line replaced by debug options")
	}
	if strings.Index(out, "file-not-found") > strings.Index(out, "timeouts") {
		t.Error("expected debug options in fixed order")
	}
}

func TestWriteLighttpd(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(dir, Options{FileDir: "/srv", Hostname: "127.0.0.1", Port: 9000}, FormatLighttpd)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(path) != dir || !strings.HasPrefix(filepath.Base(path), "config-") || filepath.Ext(path) != ".conf" {
		t.Errorf("unexpected config path %s", path)
	}
	if _, err := os.Stat(filepath.Join(dir, "uploads")); err != nil {
		t.Errorf("expected uploads dir created: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), filepath.Join(dir, "uploads")) {
		t.Error("expected default uploads dir in config")
	}
}

func TestWriteYAMLRoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(dir, Options{
		FileDir:  "/srv/site",
		Hostname: "127.0.0.1",
		Port:     9001,
		ErrorLog: &ErrorLogOptions{RequestHandling: true},
	}, FormatYAML)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.DocumentRoot != "/srv/site" || f.Addr() != "127.0.0.1:9001" {
		t.Errorf("unexpected file %+v", f)
	}
	if f.ErrorLog == nil || !f.ErrorLog.RequestHandling {
		t.Error("expected error log options preserved")
	}
	if got := f.ContentType("archive.tar.gz"); got != "application/x-tgz" {
		t.Errorf("expected longest suffix match, got %q", got)
	}
	if got := f.ContentType("style.CSS"); got != "text/css; charset=utf-8" {
		t.Errorf("expected case-insensitive match, got %q", got)
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if _, err := Write(t.TempDir(), Options{}, Format("nginx")); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoadDefaultsAndValidation(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	os.WriteFile(good, []byte("document_root: /srv\nbind: 127.0.0.1\nport: 8080\n"), 0644)
	f, err := Load(good)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.IndexFiles) != len(DefaultIndexFiles) {
		t.Errorf("expected default index files, got %v", f.IndexFiles)
	}
	if got := f.ContentType("a.gz"); got != "application/x-gzip" {
		t.Errorf("expected default mime table, got %q", got)
	}
	if got := f.ContentType("README"); got != DefaultContentType {
		t.Errorf("expected default content type, got %q", got)
	}

	noRoot := filepath.Join(dir, "noroot.yaml")
	os.WriteFile(noRoot, []byte("port: 8080\n"), 0644)
	if _, err := Load(noRoot); err == nil {
		t.Error("expected error without document_root")
	}

	badPort := filepath.Join(dir, "badport.yaml")
	os.WriteFile(badPort, []byte("document_root: /srv\nport: 0\n"), 0644)
	if _, err := Load(badPort); err == nil {
		t.Error("expected error for port 0")
	}
}

func TestResolveFileDir(t *testing.T) {
	tests := []struct {
		base, dir, want string
	}{
		{"/app", "", "/app"},
		{"/app", "www", "/app/www"},
		{"/app", "/srv/www/", "/srv/www"},
	}
	for _, tt := range tests {
		if got := ResolveFileDir(tt.base, tt.dir); got != tt.want {
			t.Errorf("ResolveFileDir(%q, %q) = %q, want %q", tt.base, tt.dir, got, tt.want)
		}
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	opts := Options{FileDir: "/srv/my site", Hostname: "0.0.0.0", Port: 8123, UploadsDir: filepath.Join(dir, "up")}

	for _, format := range []Format{FormatLighttpd, FormatYAML} {
		path, err := Write(dir, opts, format)
		if err != nil {
			t.Fatalf("Write %s: %v", format, err)
		}
		s, err := Inspect(path)
		if err != nil {
			t.Fatalf("Inspect %s: %v", format, err)
		}
		if s.DocumentRoot != "/srv/my site" || s.Bind != "0.0.0.0" || s.Port != 8123 || s.UploadsDir != opts.UploadsDir {
			t.Errorf("%s: unexpected summary %+v", format, s)
		}
	}
}

func TestInspectWithoutPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lighttpd.conf")
	os.WriteFile(path, []byte("server.document-root = \"/srv\"\n"), 0644)
	if _, err := Inspect(path); err == nil {
		t.Error("expected error without server.port")
	}
}
