// Package serverconf generates the configuration file handed to a server
// launcher.
//
// Two formats are supported: lighttpd config text for the native and
// container launchers, and YAML for the built-in file server.
package serverconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects the generated file syntax.
type Format string

const (
	FormatLighttpd Format = "lighttpd"
	FormatYAML     Format = "yaml"
)

// ErrorLogOptions enables individual debug log categories. When no options
// are given the server logs errors to syslog.
type ErrorLogOptions struct {
	ConditionCacheHandling bool `yaml:"condition_cache_handling" toml:"condition_cache_handling" json:"condition_cache_handling,omitempty"`
	ConditionHandling      bool `yaml:"condition_handling" toml:"condition_handling" json:"condition_handling,omitempty"`
	FileNotFound           bool `yaml:"file_not_found" toml:"file_not_found" json:"file_not_found,omitempty"`
	RequestHandling        bool `yaml:"request_handling" toml:"request_handling" json:"request_handling,omitempty"`
	RequestHeader          bool `yaml:"request_header" toml:"request_header" json:"request_header,omitempty"`
	RequestHeaderOnError   bool `yaml:"request_header_on_error" toml:"request_header_on_error" json:"request_header_on_error,omitempty"`
	ResponseHeader         bool `yaml:"response_header" toml:"response_header" json:"response_header,omitempty"`
	SSLNoise               bool `yaml:"ssl_noise" toml:"ssl_noise" json:"ssl_noise,omitempty"`
	Timeouts               bool `yaml:"timeouts" toml:"timeouts" json:"timeouts,omitempty"`
}

// enabled lists the lighttpd debug option names that are switched on, in
// a fixed order.
func (o ErrorLogOptions) enabled() []string {
	flags := []struct {
		on   bool
		name string
	}{
		{o.ConditionCacheHandling, "condition-cache-handling"},
		{o.ConditionHandling, "condition-handling"},
		{o.FileNotFound, "file-not-found"},
		{o.RequestHandling, "request-handling"},
		{o.RequestHeader, "request-header"},
		{o.RequestHeaderOnError, "request-header-on-error"},
		{o.ResponseHeader, "response-header"},
		{o.SSLNoise, "ssl-noise"},
		{o.Timeouts, "timeouts"},
	}
	var out []string
	for _, f := range flags {
		if f.on {
			out = append(out, f.name)
		}
	}
	return out
}

// Options describe one server configuration.
type Options struct {
	FileDir    string
	Hostname   string
	Port       int
	UploadsDir string
	ErrorLog   *ErrorLogOptions
}

// File is the YAML configuration read by the built-in server.
type File struct {
	DocumentRoot string            `yaml:"document_root"`
	Bind         string            `yaml:"bind"`
	Port         int               `yaml:"port"`
	UploadsDir   string            `yaml:"uploads_dir,omitempty"`
	IndexFiles   []string          `yaml:"index_files,omitempty"`
	MimeTypes    []MimeType        `yaml:"-"`
	MimeMap      map[string]string `yaml:"mime_types,omitempty"`
	ErrorLog     *ErrorLogOptions  `yaml:"error_log,omitempty"`
}

// NewFile builds the YAML configuration for opts with the default index
// files and mime table.
func NewFile(opts Options) File {
	m := make(map[string]string, len(DefaultMimeTypes))
	for _, mt := range DefaultMimeTypes {
		m[mt.Suffix] = mt.ContentType
	}
	return File{
		DocumentRoot: opts.FileDir,
		Bind:         opts.Hostname,
		Port:         opts.Port,
		UploadsDir:   opts.UploadsDir,
		IndexFiles:   append([]string(nil), DefaultIndexFiles...),
		MimeTypes:    DefaultMimeTypes,
		MimeMap:      m,
		ErrorLog:     opts.ErrorLog,
	}
}

// Addr returns bind:port.
func (f File) Addr() string {
	return fmt.Sprintf("%s:%d", f.Bind, f.Port)
}

// ContentType returns the content type for name. Longer suffixes such as
// ".tar.gz" take precedence over shorter ones.
func (f File) ContentType(name string) string {
	name = strings.ToLower(name)
	if len(f.MimeTypes) > 0 {
		for _, mt := range f.MimeTypes {
			if strings.HasSuffix(name, mt.Suffix) {
				return mt.ContentType
			}
		}
		return DefaultContentType
	}
	best := ""
	for suffix := range f.MimeMap {
		if len(suffix) > len(best) && strings.HasSuffix(name, suffix) {
			best = suffix
		}
	}
	if best == "" {
		return DefaultContentType
	}
	return f.MimeMap[best]
}

// Load reads a YAML server configuration.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing server config %s: %w", path, err)
	}
	if f.DocumentRoot == "" {
		return nil, fmt.Errorf("server config %s: document_root is required", path)
	}
	if f.Port <= 0 || f.Port > 65535 {
		return nil, fmt.Errorf("server config %s: invalid port %d", path, f.Port)
	}
	if len(f.IndexFiles) == 0 {
		f.IndexFiles = append([]string(nil), DefaultIndexFiles...)
	}
	if len(f.MimeMap) == 0 {
		f.MimeTypes = DefaultMimeTypes
	}
	return &f, nil
}

// RenderLighttpd returns lighttpd configuration text for opts.
func RenderLighttpd(opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "server.document-root = %q\n", opts.FileDir)
	fmt.Fprintf(&b, "server.bind = %q\n", opts.Hostname)
	if opts.UploadsDir != "" {
		fmt.Fprintf(&b, "server.upload-dirs = ( %q )\n", opts.UploadsDir)
	}
	fmt.Fprintf(&b, "server.port = %d\n", opts.Port)

	if opts.ErrorLog != nil {
		for _, op := range opts.ErrorLog.enabled() {
			fmt.Fprintf(&b, "debug.log-%s = \"enable\"\n", op)
		}
	} else {
		b.WriteString("server.errorlog-use-syslog = \"enable\"\n")
	}

	quoted := make([]string, len(DefaultIndexFiles))
	for i, name := range DefaultIndexFiles {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	fmt.Fprintf(&b, "index-file.names += (%s)\n", strings.Join(quoted, ", "))

	b.WriteString("mimetype.assign = (\n")
	for _, mt := range DefaultMimeTypes {
		fmt.Fprintf(&b, "  %q => %q,\n", mt.Suffix, mt.ContentType)
	}
	fmt.Fprintf(&b, "  \"\" => %q,\n)\n", DefaultContentType)
	return b.String()
}

// Write renders opts in format and stores it in workDir as
// config-<unixnano> with a format-specific extension. The uploads
// directory is created first since lighttpd refuses to start without it.
func Write(workDir string, opts Options, format Format) (string, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("creating work dir: %w", err)
	}
	if opts.UploadsDir == "" {
		opts.UploadsDir = filepath.Join(workDir, "uploads")
	}
	if err := os.MkdirAll(opts.UploadsDir, 0755); err != nil {
		return "", fmt.Errorf("creating uploads dir: %w", err)
	}

	var (
		data []byte
		ext  string
	)
	switch format {
	case FormatLighttpd, "":
		data = []byte(RenderLighttpd(opts))
		ext = ".conf"
	case FormatYAML:
		out, err := yaml.Marshal(NewFile(opts))
		if err != nil {
			return "", fmt.Errorf("marshaling server config: %w", err)
		}
		data = out
		ext = ".yaml"
	default:
		return "", fmt.Errorf("unknown config format %q", format)
	}

	path := filepath.Join(workDir, fmt.Sprintf("config-%d%s", time.Now().UnixNano(), ext))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing server config: %w", err)
	}
	return path, nil
}

// ResolveFileDir makes a relative document root absolute against base.
func ResolveFileDir(base, dir string) string {
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(base, dir)
}
